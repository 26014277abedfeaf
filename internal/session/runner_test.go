package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/driver"
	"github.com/example/court-scheduler/internal/events"
	"github.com/example/court-scheduler/internal/lock"
)

type fakeLocker struct {
	held     bool
	keys     []string
	released int
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	if l.held {
		return nil, lock.ErrHeld
	}
	l.keys = append(l.keys, key)
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}

func newRunner(t *testing.T) (*Runner, *club, *fakeLocker, *events.Recorder) {
	c, p := newClub(t)
	l := &fakeLocker{}
	rec := &events.Recorder{}
	m := browserMachine(c, p)
	return &Runner{
		Profile: p,
		Open:    func(context.Context) (driver.Driver, error) { return c.d, nil },
		Lock:    l,
		Sink:    rec,
		Now:     m.Now,
		Sleep:   func(_ time.Duration) {},
		NewID:   func() string { return "run-7" },
	}, c, l, rec
}

func TestRunner_ClosesBrowserAndReleasesLock(t *testing.T) {
	r, c, l, rec := newRunner(t)

	out := r.Run(context.Background(), request("Ann", "Cat"))

	require.True(t, out.Confirmed, out.String())
	assert.Equal(t, "run-7", out.RunID)
	assert.True(t, c.d.Closed)
	assert.Equal(t, []string{"ann@example.com"}, l.keys)
	assert.Equal(t, 1, l.released)
	assert.Equal(t, events.RunFinished, rec.Kinds()[len(rec.Kinds())-1])
}

func TestRunner_ClosesBrowserOnFailure(t *testing.T) {
	r, c, l, _ := newRunner(t)
	c.d.Remove(css("#grid"))

	out := r.Run(context.Background(), request("Ann", "Cat"))

	require.NotNil(t, out.Failure)
	assert.Equal(t, booking.StageSlotFound, out.Failure.Stage)
	assert.True(t, c.d.Closed)
	assert.Equal(t, 1, l.released)
}

func TestRunner_LockHeld(t *testing.T) {
	r, c, l, rec := newRunner(t)
	l.held = true
	opened := false
	r.Open = func(context.Context) (driver.Driver, error) {
		opened = true
		return c.d, nil
	}

	out := r.Run(context.Background(), request("Ann", "Cat"))

	require.NotNil(t, out.Failure)
	assert.ErrorIs(t, out.Err(), lock.ErrHeld)
	assert.False(t, opened)
	assert.Equal(t, []events.Kind{events.RunFinished}, rec.Kinds())
}

func TestRunner_OpenFailure(t *testing.T) {
	r, _, l, _ := newRunner(t)
	r.Open = func(context.Context) (driver.Driver, error) { return nil, errors.New("no chrome") }

	out := r.Run(context.Background(), request("Ann", "Cat"))

	require.NotNil(t, out.Failure)
	assert.Contains(t, out.Failure.Error(), "no chrome")
	assert.Equal(t, 1, l.released)
}

func TestRunner_InvalidRequestSkipsLock(t *testing.T) {
	r, _, l, _ := newRunner(t)
	req := request("Ann")
	req.Credentials.Password = ""

	out := r.Run(context.Background(), req)

	require.NotNil(t, out.Failure)
	assert.Empty(t, l.keys)
}

func TestRunner_ScreenshotsFailedStages(t *testing.T) {
	r, c, _, _ := newRunner(t)
	r.DebugDir = t.TempDir()
	c.slotOpens = func(court string) bool { return court != "Padel 1" }

	out := r.Run(context.Background(), request("Ann", "Cat"))

	require.True(t, out.Confirmed, out.String())
	assert.Equal(t, 1, c.d.Shots)
	files, err := filepath.Glob(filepath.Join(r.DebugDir, "run-7-slot_found-*.png"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	b, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "png", string(b))
}
