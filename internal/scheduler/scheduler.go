package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/jobs"
)

// Store is the part of jobs.Repo the scheduler needs.
type Store interface {
	DueJobs(ctx context.Context, limit int) ([]jobs.Job, error)
	MarkAttempt(ctx context.Context, jobID int64, a jobs.Attempt) error
	SetStatus(ctx context.Context, jobID int64, status string, lastErr *string) error
	ExpireWindows(ctx context.Context) (int, error)
}

// Booker runs one booking attempt. session.Runner implements it.
type Booker interface {
	Run(ctx context.Context, req booking.Request) booking.Outcome
}

// Opener recovers a job's sealed password. secret.Sealer implements it.
type Opener interface {
	Open(name, sealed string) (string, error)
}

// Scheduler polls for due jobs and runs a booking attempt for each.
type Scheduler struct {
	Store    Store
	Booker   Booker
	Secrets  Opener
	Interval time.Duration
	Logger   *zap.Logger

	Now func() time.Time

	mu       sync.Mutex
	inflight map[int64]bool
	wg       sync.WaitGroup
	// one browser session at a time
	running sync.Mutex
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick queues an attempt for every due job that has none queued or running.
// Attempts run one after another so the poll loop never blocks on a browser.
func (s *Scheduler) Tick(ctx context.Context) {
	if n, err := s.Store.ExpireWindows(ctx); err != nil {
		s.log().Warn("expire windows failed", zap.Error(err))
	} else if n > 0 {
		s.log().Info("jobs expired", zap.Int("count", n))
	}

	js, err := s.Store.DueJobs(ctx, 25)
	if err != nil {
		s.log().Error("due jobs query failed", zap.Error(err))
		return
	}

	now := s.now()
	for _, j := range js {
		if !j.Due(now) || !s.claim(j.ID) {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.unclaim(j.ID)
			s.running.Lock()
			defer s.running.Unlock()
			if ctx.Err() != nil {
				return
			}
			s.runJobAttempt(ctx, j)
		}()
	}
}

// Wait blocks until every started attempt has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		s.inflight = make(map[int64]bool)
	}
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) unclaim(id int64) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Scheduler) runJobAttempt(ctx context.Context, j jobs.Job) {
	logger := s.log().With(zap.Int64("job_id", j.ID), zap.String("job", j.Name))

	password, err := s.Secrets.Open(j.Username, j.PasswordSealed)
	if err != nil {
		// Retrying cannot fix a password sealed under other keys.
		s.fail(ctx, logger, j, "stored password unreadable: "+err.Error())
		return
	}

	req := j.Request(password)
	if err := req.Validate(); err != nil {
		s.fail(ctx, logger, j, "invalid job: "+err.Error())
		return
	}

	out := s.Booker.Run(ctx, req)
	attempt := jobs.Attempt{RunID: out.RunID, Success: out.Confirmed, Stage: booking.StageConfirmed.String()}
	if out.Slot != nil {
		attempt.Court = out.Slot.Court
	}
	if out.Failure != nil {
		attempt.Stage = out.Failure.Stage.String()
		attempt.Output = out.Failure.Error()
	}
	if err := s.Store.MarkAttempt(ctx, j.ID, attempt); err != nil {
		logger.Error("record attempt", zap.Error(err))
	}
	if out.Confirmed {
		logger.Info("job booked", zap.String("court", attempt.Court))
		return
	}

	if status, final := finalStatus(out.Failure); final {
		s.setStatus(ctx, logger, j, status, attempt.Output)
		return
	}

	// If we're past the window, mark failed.
	if s.now().After(j.WindowEndAt) {
		s.fail(ctx, logger, j, "attempt window ended without success: "+attempt.Output)
	}
}

func (s *Scheduler) fail(ctx context.Context, logger *zap.Logger, j jobs.Job, msg string) {
	s.setStatus(ctx, logger, j, jobs.StatusFailed, msg)
}

func (s *Scheduler) setStatus(ctx context.Context, logger *zap.Logger, j jobs.Job, status, msg string) {
	logger.Warn("job stopped", zap.String("status", status), zap.String("reason", msg))
	if err := s.Store.SetStatus(ctx, j.ID, status, &msg); err != nil {
		logger.Error("set status", zap.Error(err))
	}
}

// finalStatus decides whether a failed run ends the job. Slots may open
// later in the window and a held lock clears, but an unconfirmed booking may
// already exist.
func finalStatus(f *booking.Failure) (string, bool) {
	if f != nil && errors.Is(f, booking.ErrConfirmationNotDetected) {
		return jobs.StatusUnconfirmed, true
	}
	return "", false
}
