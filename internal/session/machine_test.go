package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/events"
)

type fakeSteps struct {
	calls []string
	found []booking.Slot

	// failOn returns the error for a step, or nil. The slot is nil for
	// steps that run once per session.
	failOn func(step string, slot *booking.Slot) error
	// consentInLogin makes Login deal with the banner itself.
	consentInLogin bool
	bindings       []booking.Binding
}

func (f *fakeSteps) do(step string, s *Session) error {
	f.calls = append(f.calls, step)
	if f.failOn == nil {
		return nil
	}
	return f.failOn(step, s.Slot)
}

func (f *fakeSteps) Login(_ context.Context, s *Session) error {
	if f.consentInLogin {
		s.ConsentHandled = true
	}
	return f.do("login", s)
}

func (f *fakeSteps) HandleConsent(_ context.Context, s *Session) error {
	return f.do("consent", s)
}
func (f *fakeSteps) SelectCategory(_ context.Context, s *Session) error {
	return f.do("category", s)
}
func (f *fakeSteps) SelectDate(_ context.Context, s *Session) error { return f.do("date", s) }

func (f *fakeSteps) FindSlots(_ context.Context, s *Session) ([]booking.Slot, error) {
	return f.found, f.do("find", s)
}

func (f *fakeSteps) SelectSlot(_ context.Context, s *Session, slot booking.Slot) error {
	return f.do("slot:"+slot.Court, s)
}

func (f *fakeSteps) AssignPlayers(_ context.Context, s *Session) ([]booking.Binding, error) {
	if err := f.do("players", s); err != nil {
		return nil, err
	}
	return f.bindings, nil
}

func (f *fakeSteps) AddToBasket(_ context.Context, s *Session) error { return f.do("basket", s) }
func (f *fakeSteps) AcceptTerms(_ context.Context, s *Session) error { return f.do("terms", s) }
func (f *fakeSteps) Confirm(_ context.Context, s *Session) error     { return f.do("confirm", s) }

func (f *fakeSteps) AbandonSlot(_ context.Context, s *Session) {
	f.calls = append(f.calls, "abandon")
}

func validRequest() booking.Request {
	return booking.Request{
		Credentials: booking.Credentials{Username: "ann@example.com", Password: "pw"},
		Roster:      booking.Roster{"Ann", "Bob", "Cat"},
		Category:    "Padel Courts",
		Date:        time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		StartTime:   "21:00",
	}
}

func courts(names ...string) []booking.Slot {
	out := make([]booking.Slot, len(names))
	for i, n := range names {
		out[i] = booking.Slot{Court: n, Start: "21:00", End: "22:00", Index: i}
	}
	return out
}

func newMachine(steps Steps) (*Machine, *events.Recorder) {
	rec := &events.Recorder{}
	clock := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return &Machine{
		Steps: steps,
		Sink:  rec,
		Now:   func() time.Time { return clock },
		NewID: func() string { return "run-1" },
	}, rec
}

func TestRun_ConfirmsFirstSlot(t *testing.T) {
	steps := &fakeSteps{
		found:    courts("Padel 2", "Padel 3"),
		bindings: []booking.Binding{{Field: "medspiller", Player: "Ann"}},
	}
	m, rec := newMachine(steps)

	out := m.Run(context.Background(), validRequest())

	require.True(t, out.Confirmed, out.String())
	assert.NoError(t, out.Err())
	assert.Equal(t, "run-1", out.RunID)
	require.NotNil(t, out.Slot)
	assert.Equal(t, "Padel 2", out.Slot.Court)
	assert.Equal(t, steps.bindings, out.Players)
	assert.Equal(t, []string{
		"login", "consent", "category", "date", "find",
		"slot:Padel 2", "players", "basket", "terms", "confirm",
	}, steps.calls)

	kinds := rec.Kinds()
	assert.Equal(t, events.RunStarted, kinds[0])
	assert.Equal(t, events.RunFinished, kinds[len(kinds)-1])
	assert.Len(t, rec.Of(events.StageCompleted), 9)
	assert.Empty(t, rec.Of(events.StageFailed))
}

func TestRun_StagesCompleteInOrder(t *testing.T) {
	m, rec := newMachine(&fakeSteps{found: courts("Padel 1")})
	m.Run(context.Background(), validRequest())

	var got []booking.Stage
	for _, e := range rec.Of(events.StageCompleted) {
		got = append(got, e.Stage)
	}
	want := []booking.Stage{}
	for s := booking.StageLoggingIn; s <= booking.StageConfirmed; s = s.Next() {
		want = append(want, s)
		if s == booking.StageConfirmed {
			break
		}
	}
	assert.Equal(t, want, got)
}

func TestRun_InvalidRequestTouchesNothing(t *testing.T) {
	steps := &fakeSteps{}
	m, _ := newMachine(steps)
	req := validRequest()
	req.StartTime = "9pm"

	out := m.Run(context.Background(), req)

	require.NotNil(t, out.Failure)
	assert.Equal(t, booking.StageStart, out.Failure.Stage)
	assert.Empty(t, steps.calls)
}

func TestRun_NoSlotsNeverClicks(t *testing.T) {
	steps := &fakeSteps{}
	m, _ := newMachine(steps)

	out := m.Run(context.Background(), validRequest())

	require.NotNil(t, out.Failure)
	assert.ErrorIs(t, out.Err(), booking.ErrNoBookableSlot)
	assert.Equal(t, booking.StageSlotFound, out.Failure.Stage)
	assert.Equal(t, []string{"login", "consent", "category", "date", "find"}, steps.calls)
}

func TestRun_FallsBackToNextSlot(t *testing.T) {
	steps := &fakeSteps{
		found: courts("Padel 2", "Padel 3"),
		failOn: func(step string, slot *booking.Slot) error {
			if step == "basket" && slot.Court == "Padel 2" {
				return booking.ErrElementNotFound
			}
			return nil
		},
	}
	m, rec := newMachine(steps)

	out := m.Run(context.Background(), validRequest())

	require.True(t, out.Confirmed, out.String())
	assert.Equal(t, "Padel 3", out.Slot.Court)
	assert.Contains(t, steps.calls, "abandon")
	assert.Len(t, rec.Of(events.SlotAttempt), 2)
	require.Len(t, rec.Of(events.SlotAbandoned), 1)
	assert.Equal(t, "Padel 2", rec.Of(events.SlotAbandoned)[0].Slot.Court)
}

func TestRun_AllSlotsFail(t *testing.T) {
	steps := &fakeSteps{
		found: courts("Padel 1", "Padel 2"),
		failOn: func(step string, slot *booking.Slot) error {
			if step == "players" {
				return booking.ErrAssignmentRejected
			}
			return nil
		},
	}
	m, _ := newMachine(steps)

	out := m.Run(context.Background(), validRequest())

	require.NotNil(t, out.Failure)
	assert.Equal(t, booking.ErrNoBookableSlot, out.Failure.Kind)
	assert.Equal(t, booking.StagePlayersAssigned, out.Failure.Stage)
	assert.ErrorIs(t, out.Err(), booking.ErrAssignmentRejected)
	assert.Equal(t, 2, count(steps.calls, "abandon"))
}

func TestRun_FatalFailuresStopIteration(t *testing.T) {
	for _, tc := range []struct {
		name string
		step string
		err  error
	}{
		{"roster exhausted", "players", booking.ErrInsufficientPlayers},
		{"confirmation unseen", "confirm", booking.ErrConfirmationNotDetected},
	} {
		t.Run(tc.name, func(t *testing.T) {
			steps := &fakeSteps{
				found: courts("Padel 1", "Padel 2"),
				failOn: func(step string, _ *booking.Slot) error {
					if step == tc.step {
						return tc.err
					}
					return nil
				},
			}
			m, _ := newMachine(steps)

			out := m.Run(context.Background(), validRequest())

			require.NotNil(t, out.Failure)
			assert.Equal(t, tc.err, out.Failure.Kind)
			assert.NotContains(t, steps.calls, "slot:Padel 2")
			assert.NotContains(t, steps.calls, "abandon")
		})
	}
}

func TestRun_ConsentNeverFails(t *testing.T) {
	steps := &fakeSteps{
		found: courts("Padel 1"),
		failOn: func(step string, _ *booking.Slot) error {
			if step == "consent" {
				return errors.New("banner exploded")
			}
			return nil
		},
	}
	m, rec := newMachine(steps)

	out := m.Run(context.Background(), validRequest())

	assert.True(t, out.Confirmed, out.String())
	assert.Len(t, rec.Of(events.ConsentSkipped), 1)
}

func TestRun_ConsentHandledDuringLoginIsNotRepeated(t *testing.T) {
	steps := &fakeSteps{found: courts("Padel 1"), consentInLogin: true}
	m, _ := newMachine(steps)

	out := m.Run(context.Background(), validRequest())

	assert.True(t, out.Confirmed)
	assert.NotContains(t, steps.calls, "consent")
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	steps := &fakeSteps{
		found: courts("Padel 1", "Padel 2"),
		failOn: func(step string, _ *booking.Slot) error {
			if step == "category" {
				cancel()
			}
			return nil
		},
	}
	m, _ := newMachine(steps)

	out := m.Run(ctx, validRequest())

	require.NotNil(t, out.Failure)
	assert.ErrorIs(t, out.Err(), context.Canceled)
	assert.NotContains(t, steps.calls, "find")
}

func TestRun_LoginFailure(t *testing.T) {
	steps := &fakeSteps{
		failOn: func(step string, _ *booking.Slot) error {
			if step == "login" {
				return booking.ErrElementNotFound
			}
			return nil
		},
	}
	m, rec := newMachine(steps)

	out := m.Run(context.Background(), validRequest())

	require.NotNil(t, out.Failure)
	assert.Equal(t, booking.StageLoggingIn, out.Failure.Stage)
	assert.Equal(t, booking.ErrElementNotFound, out.Failure.Kind)
	require.Len(t, rec.Of(events.StageFailed), 1)
	assert.Equal(t, booking.StageLoggingIn, rec.Of(events.StageFailed)[0].Stage)
}

func count(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}
