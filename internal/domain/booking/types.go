package booking

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout used for booking dates on the command line and in jobs.
const DateLayout = "2006-01-02"

// Credentials identify the account on the booking site. The secret is never
// rendered by String or by the %v verb.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username:%q Password:<redacted>}", c.Username)
}

func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// Roster is the ordered list of candidate player names. Order is preference order.
type Roster []string

// NewRoster trims and de-duplicates names, keeping first occurrences.
func NewRoster(names []string) Roster {
	seen := make(map[string]bool, len(names))
	out := make(Roster, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ParseRoster splits a comma-separated list of names.
func ParseRoster(csv string) Roster {
	return NewRoster(strings.Split(csv, ","))
}

// Request is everything a single run needs to know about what to book.
type Request struct {
	Credentials Credentials
	Roster      Roster
	UseVisitors bool

	// Category is the resource category label, e.g. "Padel Courts".
	Category string
	Date     time.Time
	// StartTime is matched exactly against the grid, e.g. "21:00".
	StartTime string
}

func (r Request) Validate() error {
	if !r.Credentials.Valid() {
		return fmt.Errorf("username and password are required")
	}
	if r.Category == "" {
		return fmt.Errorf("court category required")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("booking date required")
	}
	if _, err := time.Parse("15:04", r.StartTime); err != nil {
		return fmt.Errorf("booking time %q: want HH:MM", r.StartTime)
	}
	if !r.UseVisitors && len(r.Roster) == 0 {
		return fmt.Errorf("player names required unless visitors are used")
	}
	return nil
}

// Slot is one bookable interval on one court.
type Slot struct {
	Court string
	Start string
	End   string

	// Index is the candidate's position in document order among all grid
	// candidates; Handle is the driver element bound to it.
	Index  int
	Handle any
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %s-%s", s.Court, s.Start, s.End)
}

// Binding records which roster name landed in which opponent field.
type Binding struct {
	Field  string
	Player string
}

// Outcome is the terminal value of a run.
type Outcome struct {
	RunID     string
	Confirmed bool
	Failure   *Failure

	Slot     *Slot
	Players  []Binding
	Rejected []string

	StartedAt  time.Time
	FinishedAt time.Time
}

func (o Outcome) String() string {
	if o.Confirmed {
		if o.Slot != nil {
			return fmt.Sprintf("confirmed %s", o.Slot)
		}
		return "confirmed"
	}
	if o.Failure != nil {
		return "failed: " + o.Failure.Error()
	}
	return "unknown"
}

// Err returns the failure as an error, or nil when confirmed.
func (o Outcome) Err() error {
	if o.Confirmed || o.Failure == nil {
		return nil
	}
	return o.Failure
}
