package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-scheduler/internal/auth"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "courtsched dev")
}

func TestKeys(t *testing.T) {
	out, err := execute(t, "", "keys")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, l := range lines {
		_, v, ok := strings.Cut(l, "=")
		require.True(t, ok)
		b, err := base64.StdEncoding.DecodeString(v)
		require.NoError(t, err)
		assert.Len(t, b, 32)
	}
}

func TestHashPassword(t *testing.T) {
	out, err := execute(t, "s3cret\n", "hash-password")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(strings.TrimSpace(out), "s3cret"))

	out, err = execute(t, "", "hash-password", "other")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(strings.TrimSpace(out), "other"))

	_, err = execute(t, "\n", "hash-password")
	assert.Error(t, err)
}

func TestBookRejectsIncompleteRequest(t *testing.T) {
	t.Setenv("COURT_USERNAME", "ann@example.com")
	t.Setenv("COURT_PASSWORD", "pw")
	t.Setenv("PLAYER_NAMES", "Bob,Cat")

	_, err := execute(t, "", "book", "--date", "2026-11-02")
	assert.ErrorContains(t, err, "booking time")

	_, err = execute(t, "", "book", "--date", "02/11/2026", "--time", "21:00")
	assert.ErrorContains(t, err, "--date")
}

func TestJobCreateNeedsKeys(t *testing.T) {
	t.Setenv("COURT_USERNAME", "ann@example.com")
	t.Setenv("COURT_PASSWORD", "pw")
	t.Setenv("COOKIE_HASH_KEY", "")
	t.Setenv("COOKIE_BLOCK_KEY", "")

	_, err := execute(t, "", "job", "create", "--name", "padel", "--date", "2026-11-02", "--time", "21:00")
	assert.ErrorContains(t, err, "COOKIE_HASH_KEY")
}

type blockingScheduler struct{ stopped atomic.Bool }

func (s *blockingScheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	s.stopped.Store(true)
	return ctx.Err()
}

func TestServeWithSchedulerStopsSchedulerWhenListenFails(t *testing.T) {
	sched := &blockingScheduler{}
	listenErr := errors.New("listen tcp :8080: bind: address already in use")

	err := serveWithScheduler(context.Background(), sched, func(context.Context) error { return listenErr })

	assert.ErrorIs(t, err, listenErr)
	assert.True(t, sched.stopped.Load(), "scheduler still running after the server gave up")
}
