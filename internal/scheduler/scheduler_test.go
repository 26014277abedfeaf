package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/jobs"
)

var now = time.Date(2026, 10, 26, 7, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	due      []jobs.Job
	attempts map[int64][]jobs.Attempt
	status   map[int64]string
	expired  int
}

func newStore(due ...jobs.Job) *fakeStore {
	return &fakeStore{due: due, attempts: map[int64][]jobs.Attempt{}, status: map[int64]string{}}
}

func (s *fakeStore) DueJobs(context.Context, int) ([]jobs.Job, error) { return s.due, nil }

func (s *fakeStore) MarkAttempt(_ context.Context, id int64, a jobs.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id] = append(s.attempts[id], a)
	return nil
}

func (s *fakeStore) SetStatus(_ context.Context, id int64, status string, _ *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = status
	return nil
}

func (s *fakeStore) ExpireWindows(context.Context) (int, error) { return s.expired, nil }

type bookerFunc func(ctx context.Context, req booking.Request) booking.Outcome

func (f bookerFunc) Run(ctx context.Context, req booking.Request) booking.Outcome { return f(ctx, req) }

type plainOpener struct{ err error }

func (o plainOpener) Open(_, sealed string) (string, error) { return sealed, o.err }

func job(id int64) jobs.Job {
	return jobs.Job{
		ID:             id,
		Name:           "padel",
		Username:       "ann@example.com",
		PasswordSealed: "pw",
		Players:        []string{"Bob", "Cat", "Dan"},
		CourtType:      "Padel Courts",
		CourtDate:      time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		StartTime:      "21:00",
		WindowStartAt:  now.Add(-5 * time.Minute),
		WindowEndAt:    now.Add(15 * time.Minute),
		IntervalSec:    30,
		Status:         jobs.StatusActive,
	}
}

func run(t *testing.T, s *Scheduler) {
	t.Helper()
	s.Now = func() time.Time { return now }
	s.Tick(context.Background())
	s.Wait()
}

func TestTickBooksDueJob(t *testing.T) {
	store := newStore(job(1))
	var got booking.Request
	s := &Scheduler{
		Store:   store,
		Secrets: plainOpener{},
		Booker: bookerFunc(func(_ context.Context, req booking.Request) booking.Outcome {
			got = req
			return booking.Outcome{RunID: "r1", Confirmed: true, Slot: &booking.Slot{Court: "Padel 2"}}
		}),
	}

	run(t, s)

	assert.Equal(t, "pw", got.Credentials.Password)
	require.Len(t, store.attempts[1], 1)
	assert.Equal(t, jobs.Attempt{RunID: "r1", Success: true, Stage: "confirmed", Court: "Padel 2"}, store.attempts[1][0])
	assert.Empty(t, store.status)
}

func TestTickSkipsJobsNotYetDue(t *testing.T) {
	j := job(1)
	last := now.Add(-10 * time.Second)
	j.LastAttemptAt = &last
	store := newStore(j)
	s := &Scheduler{
		Store:   store,
		Secrets: plainOpener{},
		Booker: bookerFunc(func(context.Context, booking.Request) booking.Outcome {
			t.Error("job attempted before its interval")
			return booking.Outcome{}
		}),
	}

	run(t, s)
	assert.Empty(t, store.attempts)
}

func TestFailedAttemptKeepsJobActive(t *testing.T) {
	store := newStore(job(1))
	s := &Scheduler{
		Store:   store,
		Secrets: plainOpener{},
		Booker: bookerFunc(func(context.Context, booking.Request) booking.Outcome {
			return booking.Outcome{RunID: "r1", Failure: booking.Fail(booking.StageSlotFound, booking.ErrNoBookableSlot)}
		}),
	}

	run(t, s)

	require.Len(t, store.attempts[1], 1)
	a := store.attempts[1][0]
	assert.False(t, a.Success)
	assert.Equal(t, "slot_found", a.Stage)
	assert.Contains(t, a.Output, "no bookable slot")
	assert.Empty(t, store.status)
}

func TestUnconfirmedStopsJob(t *testing.T) {
	store := newStore(job(1))
	s := &Scheduler{
		Store:   store,
		Secrets: plainOpener{},
		Booker: bookerFunc(func(context.Context, booking.Request) booking.Outcome {
			return booking.Outcome{Failure: booking.Fail(booking.StageConfirmed, booking.ErrConfirmationNotDetected)}
		}),
	}

	run(t, s)
	assert.Equal(t, jobs.StatusUnconfirmed, store.status[1])
}

func TestLastAttemptInWindowFailsJob(t *testing.T) {
	j := job(1)
	store := newStore(j)
	clock := now
	s := &Scheduler{
		Store:   store,
		Secrets: plainOpener{},
		Booker: bookerFunc(func(context.Context, booking.Request) booking.Outcome {
			// the run finishes after the window closed
			clock = j.WindowEndAt.Add(time.Second)
			return booking.Outcome{Failure: booking.Fail(booking.StageSlotFound, booking.ErrNoBookableSlot)}
		}),
		Now: func() time.Time { return clock },
	}

	s.Tick(context.Background())
	s.Wait()

	assert.Equal(t, jobs.StatusFailed, store.status[1])
}

func TestUnreadablePasswordFailsJob(t *testing.T) {
	store := newStore(job(1))
	core, logs := observer.New(zapcore.WarnLevel)
	s := &Scheduler{
		Store:   store,
		Secrets: plainOpener{err: errors.New("bad mac")},
		Logger:  zap.New(core),
		Booker: bookerFunc(func(context.Context, booking.Request) booking.Outcome {
			t.Error("booked without a password")
			return booking.Outcome{}
		}),
	}

	run(t, s)

	assert.Equal(t, jobs.StatusFailed, store.status[1])
	assert.Equal(t, 1, logs.FilterMessage("job stopped").Len())
}

func TestJobRunsOnceAtATime(t *testing.T) {
	store := newStore(job(1))
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	s := &Scheduler{
		Store:   store,
		Secrets: plainOpener{},
		Booker: bookerFunc(func(context.Context, booking.Request) booking.Outcome {
			mu.Lock()
			calls++
			mu.Unlock()
			<-release
			return booking.Outcome{Confirmed: true}
		}),
		Now: func() time.Time { return now },
	}

	s.Tick(context.Background())
	s.Tick(context.Background())
	close(release)
	s.Wait()

	assert.Equal(t, 1, calls)
}

func TestAttemptsDoNotOverlap(t *testing.T) {
	store := newStore(job(1), job(2), job(3))
	var mu sync.Mutex
	active, peak := 0, 0
	s := &Scheduler{
		Store:   store,
		Secrets: plainOpener{},
		Booker: bookerFunc(func(context.Context, booking.Request) booking.Outcome {
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return booking.Outcome{Confirmed: true}
		}),
	}

	run(t, s)

	assert.Equal(t, 1, peak)
	assert.Len(t, store.attempts, 3)
}

func TestRunWaitsForAttemptOnShutdown(t *testing.T) {
	store := newStore(job(1))
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var finished atomic.Bool
	s := &Scheduler{
		Store:    store,
		Secrets:  plainOpener{},
		Interval: time.Hour,
		Now:      func() time.Time { return now },
		Booker: bookerFunc(func(context.Context, booking.Request) booking.Outcome {
			close(started)
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return booking.Outcome{Confirmed: true}
		}),
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	<-started
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.True(t, finished.Load())
}
