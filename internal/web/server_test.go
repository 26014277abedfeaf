package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/court-scheduler/internal/auth"
	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/jobs"
)

type fakeJobs struct {
	jobs []jobs.Job
	err  error
}

func (f fakeJobs) List(context.Context) ([]jobs.Job, error) { return f.jobs, f.err }

func (f fakeJobs) Get(_ context.Context, id int64) (jobs.Job, error) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return jobs.Job{}, db.ErrNotFound
}

func newServer(t *testing.T, js fakeJobs) http.Handler {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	s := &Server{Auth: auth.Basic{User: "admin", PasswordHash: string(h)}, Jobs: js}
	return s.Routes()
}

func get(h http.Handler, path string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authed {
		req.SetBasicAuth("admin", "s3cret")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleJob() jobs.Job {
	court := "Padel 2"
	return jobs.Job{
		ID:             1,
		Name:           "monday padel",
		Username:       "ann@example.com",
		PasswordSealed: "SEALED-SECRET",
		Players:        []string{"Bob", "Cat"},
		CourtType:      "Padel Courts",
		CourtDate:      time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		StartTime:      "21:00",
		Status:         jobs.StatusBooked,
		BookedCourt:    &court,
	}
}

func TestHealthz(t *testing.T) {
	h := newServer(t, fakeJobs{})
	rec := get(h, "/healthz", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	s := &Server{Ping: func(context.Context) error { return errors.New("down") }}
	rec = get(s.Routes(), "/healthz", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobsRequiresAuth(t *testing.T) {
	h := newServer(t, fakeJobs{jobs: []jobs.Job{sampleJob()}})
	assert.Equal(t, http.StatusUnauthorized, get(h, "/jobs", false).Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, "/jobs/1", false).Code)
}

func TestListJobs(t *testing.T) {
	h := newServer(t, fakeJobs{jobs: []jobs.Job{sampleJob()}})
	rec := get(h, "/jobs", true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "SEALED-SECRET")

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "2026-11-02", got[0]["court_date"])
	assert.Equal(t, "Padel 2", got[0]["booked_court"])
	assert.NotContains(t, got[0], "last_error")
}

func TestGetJob(t *testing.T) {
	h := newServer(t, fakeJobs{jobs: []jobs.Job{sampleJob()}})

	assert.Equal(t, http.StatusOK, get(h, "/jobs/1", true).Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/jobs/2", true).Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/jobs/abc", true).Code)
}

func TestListJobsError(t *testing.T) {
	h := newServer(t, fakeJobs{err: errors.New("db gone")})
	rec := get(h, "/jobs", true)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db gone")
}
