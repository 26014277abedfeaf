// Package session sequences one booking run: log in, pick the category and
// date, then try each matching slot until one is confirmed.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/events"
	"github.com/example/court-scheduler/internal/players"
)

// Session is the state of one run, threaded through every step.
type Session struct {
	RunID   string
	Request booking.Request
	Stage   booking.Stage

	// ConsentHandled is set once the consent banner has been dealt with
	// (clicked or found absent) and is never reset within a run.
	ConsentHandled bool

	Players  *players.State
	Slot     *booking.Slot
	Bindings []booking.Binding

	// OnSubmission observes every player lookup.
	OnSubmission func(players.Submission)
	// OnConsentSkipped observes a consent banner that could not be handled.
	OnConsentSkipped func(error)
}

// consentSkipped reports a consent failure. Consent never fails the run.
func (s *Session) consentSkipped(err error) {
	if s.OnConsentSkipped != nil {
		s.OnConsentSkipped(err)
	}
}

// Steps is the UI work behind each stage. Every method either completes its
// stage or returns why it could not.
type Steps interface {
	Login(ctx context.Context, s *Session) error
	HandleConsent(ctx context.Context, s *Session) error
	SelectCategory(ctx context.Context, s *Session) error
	SelectDate(ctx context.Context, s *Session) error
	FindSlots(ctx context.Context, s *Session) ([]booking.Slot, error)

	SelectSlot(ctx context.Context, s *Session, slot booking.Slot) error
	AssignPlayers(ctx context.Context, s *Session) ([]booking.Binding, error)
	AddToBasket(ctx context.Context, s *Session) error
	AcceptTerms(ctx context.Context, s *Session) error
	Confirm(ctx context.Context, s *Session) error

	// AbandonSlot tidies up after a failed slot attempt. It is best effort.
	AbandonSlot(ctx context.Context, s *Session)
}

// Machine runs Steps in stage order and turns the result into an Outcome.
type Machine struct {
	Steps Steps
	Sink  events.Sink

	Now   func() time.Time
	NewID func() string
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Machine) emit(ctx context.Context, s *Session, e events.Event) {
	if m.Sink == nil {
		return
	}
	e.RunID = s.RunID
	if e.Stage == booking.StageStart {
		e.Stage = s.Stage
	}
	e.At = m.now()
	m.Sink.Emit(ctx, e)
}

// NewSession prepares the state for one run of req.
func (m *Machine) NewSession(req booking.Request) *Session {
	id := uuid.NewString()
	if m.NewID != nil {
		id = m.NewID()
	}
	return &Session{RunID: id, Request: req, Stage: booking.StageStart, Players: players.NewState()}
}

// Run drives one run to a terminal outcome. It never panics on expected
// failures; the reason is in Outcome.Failure.
func (m *Machine) Run(ctx context.Context, req booking.Request) booking.Outcome {
	return m.RunSession(ctx, m.NewSession(req))
}

// RunSession drives s through login, category and date, then tries each
// matching slot in order. A failure after a slot is selected abandons that
// slot and moves to the next one, except ErrInsufficientPlayers,
// ErrConfirmationNotDetected and context errors, which end the run: the
// roster cannot recover, and an unconfirmed booking may already exist.
func (m *Machine) RunSession(ctx context.Context, s *Session) booking.Outcome {
	out := booking.Outcome{RunID: s.RunID, StartedAt: m.now()}
	s.OnSubmission = func(sub players.Submission) {
		m.emit(ctx, s, events.Event{
			Kind:     events.PlayerSubmitted,
			Slot:     s.Slot,
			Field:    sub.Field,
			Player:   sub.Name,
			Accepted: sub.Accepted,
			Detail:   sub.Reason,
		})
	}
	s.OnConsentSkipped = func(err error) {
		m.emit(ctx, s, events.Event{Kind: events.ConsentSkipped, Err: err})
	}
	m.emit(ctx, s, events.Event{Kind: events.RunStarted})

	if err := s.Request.Validate(); err != nil {
		return m.finish(ctx, s, out, booking.Fail(booking.StageStart, err))
	}
	if f := m.prepare(ctx, s); f != nil {
		return m.finish(ctx, s, out, f)
	}

	found, err := m.Steps.FindSlots(ctx, s)
	if err != nil {
		return m.finish(ctx, s, out, m.fail(ctx, s, booking.StageSlotFound, err))
	}
	m.emit(ctx, s, events.Event{Kind: events.SlotsFound, Slots: found})
	if len(found) == 0 {
		err := fmt.Errorf("nothing bookable at %s: %w", s.Request.StartTime, booking.ErrNoBookableSlot)
		return m.finish(ctx, s, out, m.fail(ctx, s, booking.StageSlotFound, err))
	}

	var last *booking.Failure
	for i := range found {
		slot := found[i]
		f := m.attempt(ctx, s, slot)
		if f == nil {
			out.Confirmed = true
			return m.finish(ctx, s, out, nil)
		}
		if fatal(f) {
			return m.finish(ctx, s, out, f)
		}
		last = f
		m.emit(ctx, s, events.Event{Kind: events.SlotAbandoned, Slot: &slot, Err: f})
		m.Steps.AbandonSlot(ctx, s)
	}
	return m.finish(ctx, s, out, &booking.Failure{
		Kind:  booking.ErrNoBookableSlot,
		Stage: last.Stage,
		Err:   fmt.Errorf("all %d matching slots failed, last: %w", len(found), last),
	})
}

// prepare runs the stages that happen once per run, before slot iteration.
func (m *Machine) prepare(ctx context.Context, s *Session) *booking.Failure {
	if f := m.step(ctx, s, booking.StageLoggingIn, func() error { return m.Steps.Login(ctx, s) }); f != nil {
		return f
	}

	if !s.ConsentHandled {
		if err := m.Steps.HandleConsent(ctx, s); err != nil {
			s.consentSkipped(err)
		}
		s.ConsentHandled = true
	}
	m.advance(ctx, s, booking.StageConsentHandled)

	if f := m.step(ctx, s, booking.StageCategorySelected, func() error { return m.Steps.SelectCategory(ctx, s) }); f != nil {
		return f
	}
	return m.step(ctx, s, booking.StageDateSelected, func() error { return m.Steps.SelectDate(ctx, s) })
}

// attempt runs the per-slot stages. Every attempt starts from DateSelected.
func (m *Machine) attempt(ctx context.Context, s *Session, slot booking.Slot) *booking.Failure {
	s.Stage = booking.StageDateSelected
	s.Slot = &slot
	s.Bindings = nil
	m.emit(ctx, s, events.Event{Kind: events.SlotAttempt, Slot: &slot})

	steps := []struct {
		stage booking.Stage
		run   func() error
	}{
		{booking.StageSlotFound, func() error { return m.Steps.SelectSlot(ctx, s, slot) }},
		{booking.StagePlayersAssigned, func() error {
			b, err := m.Steps.AssignPlayers(ctx, s)
			s.Bindings = b
			return err
		}},
		{booking.StageBasketAdded, func() error { return m.Steps.AddToBasket(ctx, s) }},
		{booking.StageTermsAccepted, func() error { return m.Steps.AcceptTerms(ctx, s) }},
		{booking.StageConfirmed, func() error { return m.Steps.Confirm(ctx, s) }},
	}
	for _, st := range steps {
		if f := m.step(ctx, s, st.stage, st.run); f != nil {
			return f
		}
	}
	return nil
}

func (m *Machine) step(ctx context.Context, s *Session, stage booking.Stage, run func() error) *booking.Failure {
	if err := ctx.Err(); err != nil {
		return m.fail(ctx, s, stage, err)
	}
	if err := run(); err != nil {
		return m.fail(ctx, s, stage, err)
	}
	m.advance(ctx, s, stage)
	return nil
}

func (m *Machine) advance(ctx context.Context, s *Session, stage booking.Stage) {
	s.Stage = stage
	m.emit(ctx, s, events.Event{Kind: events.StageCompleted, Slot: s.Slot})
}

func (m *Machine) fail(ctx context.Context, s *Session, stage booking.Stage, err error) *booking.Failure {
	f := booking.Fail(stage, err)
	m.emit(ctx, s, events.Event{Kind: events.StageFailed, Stage: stage, Slot: s.Slot, Err: f})
	return f
}

// fatal reports whether a slot failure ends the run instead of moving on to
// the next slot. Rejections are permanent, so a roster that ran out for one
// slot runs out for all; an unconfirmed booking may have gone through.
func fatal(f *booking.Failure) bool {
	return errors.Is(f, booking.ErrInsufficientPlayers) ||
		errors.Is(f, booking.ErrConfirmationNotDetected) ||
		errors.Is(f, context.Canceled) ||
		errors.Is(f, context.DeadlineExceeded)
}

func (m *Machine) finish(ctx context.Context, s *Session, out booking.Outcome, f *booking.Failure) booking.Outcome {
	out.FinishedAt = m.now()
	out.Rejected = s.Players.Rejected()
	if f != nil {
		s.Stage = booking.StageFailed
		out.Confirmed = false
		out.Failure = f
	} else {
		out.Slot = s.Slot
		out.Players = s.Bindings
	}
	m.emit(ctx, s, events.Event{Kind: events.RunFinished, Outcome: &out, Err: out.Err()})
	return out
}
