package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/auth"
	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/jobs"
)

// JobReader is the read side of jobs.Repo.
type JobReader interface {
	List(ctx context.Context) ([]jobs.Job, error)
	Get(ctx context.Context, id int64) (jobs.Job, error)
}

// Server exposes scheduler status. It never accepts writes; jobs are created
// from the command line.
type Server struct {
	Auth   auth.Basic
	Jobs   JobReader
	Ping   func(ctx context.Context) error
	Logger *zap.Logger
}

// jobView is a job as shown to operators. The sealed password stays out.
type jobView struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Username      string     `json:"username"`
	Players       []string   `json:"players"`
	UseVisitors   bool       `json:"use_visitors"`
	CourtType     string     `json:"court_type"`
	CourtDate     string     `json:"court_date"`
	StartTime     string     `json:"start_time"`
	WindowStartAt time.Time  `json:"window_start_at"`
	WindowEndAt   time.Time  `json:"window_end_at"`
	IntervalSec   int        `json:"interval_seconds"`
	Status        string     `json:"status"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	BookedAt      *time.Time `json:"booked_at,omitempty"`
	BookedCourt   *string    `json:"booked_court,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
}

func view(j jobs.Job) jobView {
	return jobView{
		ID:            j.ID,
		Name:          j.Name,
		Username:      j.Username,
		Players:       j.Players,
		UseVisitors:   j.UseVisitors,
		CourtType:     j.CourtType,
		CourtDate:     j.CourtDate.Format("2006-01-02"),
		StartTime:     j.StartTime,
		WindowStartAt: j.WindowStartAt,
		WindowEndAt:   j.WindowEndAt,
		IntervalSec:   j.IntervalSec,
		Status:        j.Status,
		LastAttemptAt: j.LastAttemptAt,
		BookedAt:      j.BookedAt,
		BookedCourt:   j.BookedCourt,
		LastError:     j.LastError,
	}
}

func (s *Server) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /jobs", s.Auth.Require(http.HandlerFunc(s.handleJobs)))
	mux.Handle("GET /jobs/{id}", s.Auth.Require(http.HandlerFunc(s.handleJob)))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Ping != nil {
		if err := s.Ping(r.Context()); err != nil {
			s.log().Warn("health check failed", zap.Error(err))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	js, err := s.Jobs.List(r.Context())
	if err != nil {
		s.log().Error("list jobs", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]jobView, 0, len(js))
	for _, j := range js {
		out = append(out, view(j))
	}
	s.writeJSON(w, out)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	j, err := s.Jobs.Get(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log().Error("get job", zap.Int64("job_id", id), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, view(j))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Warn("write response", zap.Error(err))
	}
}

func Start(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
