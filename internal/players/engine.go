package players

import (
	"context"
	"fmt"

	"github.com/example/court-scheduler/internal/domain/booking"
)

// Signal is what the form shows after a name was looked up.
type Signal struct {
	// Error is the text of a visible rejection alert.
	Error string
	// Advisory is the text of the tooltip next to the field.
	Advisory string
	// Value is what the field holds after the lookup.
	Value string
}

// Accepted applies the acceptance rule: any error text rejects, an advisory
// with an empty field rejects, and only a filled field without an advisory
// accepts.
func (s Signal) Accepted() bool {
	return s.Error == "" && s.Advisory == "" && s.Value != ""
}

func (s Signal) reason() string {
	switch {
	case s.Error != "":
		return s.Error
	case s.Advisory != "":
		return s.Advisory
	}
	return "field empty after lookup"
}

// Submitter performs one lookup of name in field i and reports the signal.
type Submitter interface {
	Submit(ctx context.Context, field int, name string) (Signal, error)
	Value(ctx context.Context, field int) (string, error)
}

// Submission is one entry of the submission trace.
type Submission struct {
	Field    string
	Name     string
	Accepted bool
	Reason   string
}

type Engine struct {
	Roster booking.Roster
	// Fields names the opponent fields in form order.
	Fields []string
	State  *State

	// Visitor, when set, is typed into every field instead of roster names.
	Visitor string

	// Trace, when set, observes every submission.
	Trace func(Submission)
}

// Assign fills every field for one slot attempt. It returns
// booking.ErrInsufficientPlayers when the usable roster runs out, with no
// bindings. Rejected names go into State and are never submitted again.
func (e *Engine) Assign(ctx context.Context, sub Submitter) ([]booking.Binding, error) {
	if e.State == nil {
		e.State = NewState()
	}
	e.State.Release()

	if e.Visitor != "" {
		return e.assignVisitors(ctx, sub)
	}

	if usable := e.State.UsableNames(e.Roster); len(usable) < len(e.Fields) {
		return nil, fmt.Errorf("%d usable names for %d fields: %w", len(usable), len(e.Fields), booking.ErrInsufficientPlayers)
	}

	bindings := make([]booking.Binding, 0, len(e.Fields))
	for i, field := range e.Fields {
		name, err := e.fill(ctx, sub, i, field)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, booking.Binding{Field: field, Player: name})
	}
	if err := e.verify(ctx, sub); err != nil {
		return nil, err
	}
	return bindings, nil
}

func (e *Engine) fill(ctx context.Context, sub Submitter, i int, field string) (string, error) {
	for _, name := range e.Roster {
		if !e.State.Usable(name) {
			continue
		}
		sig, err := sub.Submit(ctx, i, name)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field, err)
		}
		e.trace(Submission{Field: field, Name: name, Accepted: sig.Accepted(), Reason: sig.reason()})
		if sig.Accepted() {
			e.State.Use(name)
			return name, nil
		}
		e.State.Reject(name)
	}
	return "", fmt.Errorf("field %s: roster exhausted: %w", field, booking.ErrInsufficientPlayers)
}

func (e *Engine) assignVisitors(ctx context.Context, sub Submitter) ([]booking.Binding, error) {
	bindings := make([]booking.Binding, 0, len(e.Fields))
	for i, field := range e.Fields {
		sig, err := sub.Submit(ctx, i, e.Visitor)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		e.trace(Submission{Field: field, Name: e.Visitor, Accepted: sig.Error == "", Reason: sig.reason()})
		if sig.Error != "" {
			return nil, fmt.Errorf("field %s: visitor refused: %s: %w", field, sig.Error, booking.ErrAssignmentRejected)
		}
		bindings = append(bindings, booking.Binding{Field: field, Player: e.Visitor})
	}
	if err := e.verify(ctx, sub); err != nil {
		return nil, err
	}
	return bindings, nil
}

// verify re-reads every field after assignment; the form is known to clear
// fields behind our back.
func (e *Engine) verify(ctx context.Context, sub Submitter) error {
	for i, field := range e.Fields {
		v, err := sub.Value(ctx, i)
		if err != nil {
			return fmt.Errorf("verify field %s: %w", field, err)
		}
		if v == "" {
			return fmt.Errorf("field %s emptied after assignment: %w", field, booking.ErrAssignmentRejected)
		}
	}
	return nil
}

func (e *Engine) trace(s Submission) {
	if e.Trace != nil {
		e.Trace(s)
	}
}
