package booking

import (
	"errors"
	"fmt"
)

var (
	ErrElementNotFound         = errors.New("element not found")
	ErrTimeout                 = errors.New("timeout")
	ErrDateMismatch            = errors.New("date mismatch")
	ErrInsufficientPlayers     = errors.New("insufficient players")
	ErrAssignmentRejected      = errors.New("assignment rejected")
	ErrNoBookableSlot          = errors.New("no bookable slot")
	ErrConfirmationNotDetected = errors.New("confirmation not detected")
)

var kinds = []error{
	ErrElementNotFound,
	ErrTimeout,
	ErrDateMismatch,
	ErrInsufficientPlayers,
	ErrAssignmentRejected,
	ErrNoBookableSlot,
	ErrConfirmationNotDetected,
}

// Failure is a stage failure: the taxonomy kind, where it happened and the
// underlying cause.
type Failure struct {
	Kind  error
	Stage Stage
	Err   error
}

// Fail builds a Failure for stage, classifying err into the taxonomy. An
// error that fits no kind becomes its own kind.
func Fail(stage Stage, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return &Failure{Kind: f.Kind, Stage: stage, Err: f.Err}
	}
	return &Failure{Kind: Classify(err), Stage: stage, Err: err}
}

// Classify returns the taxonomy kind err belongs to, or err when it fits none.
func Classify(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return err
}

func (f *Failure) Error() string {
	if f.Err == nil || f.Err == f.Kind {
		return fmt.Sprintf("%s: %v", f.Stage, f.Kind)
	}
	if errors.Is(f.Err, f.Kind) {
		return fmt.Sprintf("%s: %v", f.Stage, f.Err)
	}
	return fmt.Sprintf("%s: %v: %v", f.Stage, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool {
	return target == f.Kind
}
