package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/domain/booking"
)

const (
	StatusActive = "active"
	StatusBooked = "booked"
	StatusFailed = "failed"
	// StatusUnconfirmed means the confirm button was clicked but no
	// confirmation appeared. The booking may exist, so the job is not retried.
	StatusUnconfirmed = "unconfirmed"
)

// Job is a booking to attempt repeatedly inside a window, typically the
// minutes around the club releasing the date.
type Job struct {
	ID             int64
	Name           string
	Username       string
	PasswordSealed string
	Players        []string
	UseVisitors    bool
	CourtType      string
	CourtDate      time.Time
	StartTime      string

	WindowStartAt time.Time
	WindowEndAt   time.Time
	IntervalSec   int

	Status        string
	LastAttemptAt *time.Time
	BookedAt      *time.Time
	BookedCourt   *string
	LastError     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attempt is one recorded run for a job.
type Attempt struct {
	RunID   string
	Success bool
	Stage   string
	Court   string
	Output  string
}

// Window computes the attempt window for a booking that opens daysOut days
// before date at releaseTime (HH:MM, local to loc). Attempts start lead
// before the release and stop length after it.
func Window(date time.Time, daysOut int, releaseTime string, loc *time.Location, lead, length time.Duration) (start, end time.Time, err error) {
	if releaseTime == "" {
		releaseTime = "00:00"
	}
	openDate := date.AddDate(0, 0, -daysOut)
	openAt, err := time.ParseInLocation("2006-01-02 15:04", openDate.Format("2006-01-02")+" "+releaseTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("release time %q: want HH:MM: %w", releaseTime, err)
	}
	return openAt.Add(-lead).UTC(), openAt.Add(length).UTC(), nil
}

// Request rebuilds the booking request, given the opened password.
func (j Job) Request(password string) booking.Request {
	return booking.Request{
		Credentials: booking.Credentials{Username: j.Username, Password: password},
		Roster:      booking.NewRoster(j.Players),
		UseVisitors: j.UseVisitors,
		Category:    j.CourtType,
		Date:        j.CourtDate,
		StartTime:   j.StartTime,
	}
}

func (j Job) NextAttemptAt(now time.Time) time.Time {
	if j.LastAttemptAt == nil {
		return j.WindowStartAt
	}
	return j.LastAttemptAt.Add(time.Duration(j.IntervalSec) * time.Second)
}

// Due reports whether the job should be attempted at now.
func (j Job) Due(now time.Time) bool {
	if j.Status != StatusActive || now.Before(j.WindowStartAt) || now.After(j.WindowEndAt) {
		return false
	}
	return !j.NextAttemptAt(now).After(now)
}

func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("name required")
	}
	if j.Username == "" || j.PasswordSealed == "" {
		return fmt.Errorf("username and password required")
	}
	if j.CourtType == "" {
		return fmt.Errorf("court_type required")
	}
	if j.CourtDate.IsZero() {
		return fmt.Errorf("court_date required")
	}
	if _, err := time.Parse("15:04", j.StartTime); err != nil {
		return fmt.Errorf("start_time %q: want HH:MM", j.StartTime)
	}
	if !j.UseVisitors && len(booking.NewRoster(j.Players)) == 0 {
		return fmt.Errorf("players required unless visitors are used")
	}
	if !j.WindowEndAt.After(j.WindowStartAt) {
		return fmt.Errorf("window_end_at must be after window_start_at")
	}
	if j.IntervalSec < 1 {
		return fmt.Errorf("interval_seconds must be >= 1")
	}
	return nil
}

type Repo struct{ db db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{db: q} }

const jobColumns = `id,name,username,password_sealed,player_names,use_visitors,court_type,court_date,start_time,window_start_at,window_end_at,interval_seconds,status,last_attempt_at,booked_at,booked_court,last_error,created_at,updated_at`

func (r *Repo) Create(ctx context.Context, j Job) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
INSERT INTO jobs(name,username,password_sealed,player_names,use_visitors,court_type,court_date,start_time,window_start_at,window_end_at,interval_seconds,status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'active')
RETURNING id`,
		j.Name, j.Username, j.PasswordSealed, strings.Join(booking.NewRoster(j.Players), ","), j.UseVisitors, j.CourtType, j.CourtDate, j.StartTime, j.WindowStartAt, j.WindowEndAt, j.IntervalSec,
	).Scan(&id)
	return id, db.WrapNotFound(err)
}

func (r *Repo) List(ctx context.Context) ([]Job, error) {
	rows, err := r.db.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *Repo) Get(ctx context.Context, id int64) (Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
	if err != nil {
		return Job{}, db.WrapNotFound(err)
	}
	return j, nil
}

func (r *Repo) SetStatus(ctx context.Context, jobID int64, status string, lastErr *string) error {
	return r.db.Exec(ctx, `UPDATE jobs SET status=$2, last_error=$3, updated_at=now() WHERE id=$1`, jobID, status, lastErr)
}

func (r *Repo) MarkAttempt(ctx context.Context, jobID int64, a Attempt) error {
	if err := r.db.Exec(ctx, `INSERT INTO job_attempts(job_id, run_id, success, stage, court, output) VALUES ($1,$2,$3,$4,$5,$6)`,
		jobID, a.RunID, a.Success, a.Stage, a.Court, a.Output); err != nil {
		return err
	}
	if a.Success {
		return r.db.Exec(ctx, `UPDATE jobs SET last_attempt_at=now(), booked_at=now(), booked_court=$2, status='booked', last_error=NULL, updated_at=now() WHERE id=$1`, jobID, a.Court)
	}
	return r.db.Exec(ctx, `UPDATE jobs SET last_attempt_at=now(), last_error=$2, updated_at=now() WHERE id=$1`, jobID, a.Output)
}

// DueJobs returns active jobs whose window is open. Callers still check
// NextAttemptAt.
func (r *Repo) DueJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status='active'
  AND now() >= window_start_at
  AND now() <= window_end_at
ORDER BY window_start_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ExpireWindows fails active jobs whose window closed without a booking.
func (r *Repo) ExpireWindows(ctx context.Context) (int, error) {
	rows, err := r.db.Query(ctx, `
UPDATE jobs SET status='failed', last_error=COALESCE(last_error, 'attempt window ended without success'), updated_at=now()
WHERE status='active' AND now() > window_end_at
RETURNING id`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

func collect(rows db.Rows) ([]Job, error) {
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row db.Row) (Job, error) {
	var j Job
	var players string
	err := row.Scan(
		&j.ID, &j.Name, &j.Username, &j.PasswordSealed, &players, &j.UseVisitors, &j.CourtType, &j.CourtDate, &j.StartTime,
		&j.WindowStartAt, &j.WindowEndAt, &j.IntervalSec, &j.Status, &j.LastAttemptAt, &j.BookedAt, &j.BookedCourt, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	j.Players = booking.ParseRoster(players)
	return j, nil
}
