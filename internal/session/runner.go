package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/driver"
	"github.com/example/court-scheduler/internal/events"
	"github.com/example/court-scheduler/internal/locator"
	"github.com/example/court-scheduler/internal/lock"
)

// Runner owns the browser for one run: it takes the account lock, opens a
// driver, runs the machine and always closes the driver again.
type Runner struct {
	Profile *locator.Profile
	Open    func(ctx context.Context) (driver.Driver, error)
	Lock    lock.Locker
	Sink    events.Sink
	Logger  *zap.Logger

	// DebugDir receives a screenshot for every failed stage when set.
	DebugDir string

	// Now, Sleep and NewID are replaced in tests.
	Now   func() time.Time
	Sleep func(time.Duration)
	NewID func() string
}

func (r *Runner) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run books req. Errors that stop the run before the machine starts are
// reported as a failed Outcome at StageStart, like validation errors.
func (r *Runner) Run(ctx context.Context, req booking.Request) booking.Outcome {
	m := &Machine{Now: r.Now, NewID: r.NewID}
	s := m.NewSession(req)
	started := m.now()
	early := func(err error) booking.Outcome {
		out := booking.Outcome{
			RunID:      s.RunID,
			Failure:    booking.Fail(booking.StageStart, err),
			StartedAt:  started,
			FinishedAt: m.now(),
		}
		if r.Sink != nil {
			r.Sink.Emit(ctx, events.Event{Kind: events.RunFinished, RunID: s.RunID, At: out.FinishedAt, Outcome: &out, Err: out.Err()})
		}
		return out
	}

	if err := req.Validate(); err != nil {
		return early(err)
	}

	locker := r.Lock
	if locker == nil {
		locker = lock.Noop{}
	}
	release, err := locker.Acquire(ctx, req.Credentials.Username)
	if err != nil {
		return early(err)
	}
	defer func() {
		// The run context may already be done; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(rctx); err != nil {
			r.log().Warn("release lock", zap.Error(err))
		}
	}()

	drv, err := r.Open(ctx)
	if err != nil {
		return early(fmt.Errorf("open browser: %w", err))
	}
	defer func() {
		if err := drv.Close(); err != nil {
			r.log().Warn("close browser", zap.Error(err))
		}
	}()

	m.Steps = &BrowserSteps{
		Driver:  drv,
		Profile: r.Profile,
		Logger:  r.log(),
		Sleep:   r.Sleep,
		Now:     r.Now,
	}
	sinks := events.Multi{r.Sink}
	if r.DebugDir != "" {
		sinks = append(sinks, &ScreenshotSink{Driver: drv, Dir: r.DebugDir, Logger: r.log()})
	}
	m.Sink = sinks
	return m.RunSession(ctx, s)
}

// ScreenshotSink saves a page screenshot whenever a stage fails. Drivers
// that cannot take screenshots are ignored.
type ScreenshotSink struct {
	Driver driver.Driver
	Dir    string
	Logger *zap.Logger
}

func (s *ScreenshotSink) Emit(ctx context.Context, e events.Event) {
	if e.Kind != events.StageFailed {
		return
	}
	// A cancelled run has no page left to capture.
	if errors.Is(e.Err, context.Canceled) || ctx.Err() != nil {
		return
	}
	shooter, ok := s.Driver.(driver.Screenshotter)
	if !ok {
		return
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	png, err := shooter.Screenshot(ctx)
	if err != nil {
		logger.Debug("screenshot failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		logger.Warn("create debug dir", zap.Error(err))
		return
	}
	name := filepath.Join(s.Dir, fmt.Sprintf("%s-%s-%s.png", e.RunID, e.Stage, e.At.Format("150405")))
	if err := os.WriteFile(name, png, 0o644); err != nil {
		logger.Warn("write screenshot", zap.Error(err))
		return
	}
	logger.Info("saved failure screenshot", zap.String("path", name))
}
