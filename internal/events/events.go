// Package events carries structured progress out of a booking run. The
// session emits events; the host decides where they go.
package events

import (
	"context"
	"time"

	"github.com/example/court-scheduler/internal/domain/booking"
)

type Kind string

const (
	RunStarted      Kind = "run_started"
	StageCompleted  Kind = "stage_completed"
	StageFailed     Kind = "stage_failed"
	ConsentSkipped  Kind = "consent_skipped"
	SlotsFound      Kind = "slots_found"
	SlotAttempt     Kind = "slot_attempt"
	SlotAbandoned   Kind = "slot_abandoned"
	PlayerSubmitted Kind = "player_submitted"
	RunFinished     Kind = "run_finished"
)

// Event is one observation from a run. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind  Kind
	RunID string
	Stage booking.Stage
	At    time.Time

	Slot     *booking.Slot
	Slots    []booking.Slot
	Field    string
	Player   string
	Accepted bool
	Detail   string
	Err      error

	Outcome *booking.Outcome
}

type Sink interface {
	Emit(ctx context.Context, e Event)
}

type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// Recorder keeps every event; it is meant for tests and debugging.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.Events = append(r.Events, e)
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	out := make([]Kind, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Kind
	}
	return out
}

// Of returns the recorded events of kind k.
func (r *Recorder) Of(k Kind) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
