// Package calendar moves a month-paged date picker to a target date and
// selects the day.
package calendar

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/driver"
	"github.com/example/court-scheduler/internal/locator"
)

// Month is a displayed calendar page.
type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%s %d", m.Month, m.Year)
}

// Step is one page turn of the picker.
type Step int

const (
	Advance Step = 1
	Retreat Step = -1
)

func (s Step) String() string {
	if s == Advance {
		return "advance"
	}
	return "retreat"
}

// Delta is the signed number of months from current to the target's month.
func Delta(current Month, target time.Time) int {
	return (target.Year()-current.Year)*12 + (int(target.Month()) - int(current.Month))
}

// Plan returns exactly |Delta| steps, all in the direction of its sign.
func Plan(current Month, target time.Time) []Step {
	d := Delta(current, target)
	step := Advance
	if d < 0 {
		step, d = Retreat, -d
	}
	steps := make([]Step, d)
	for i := range steps {
		steps[i] = step
	}
	return steps
}

// Navigator drives the date field and picker described by a profile.
type Navigator struct {
	Driver   driver.Driver
	Locators locator.Calendar
	Timeouts locator.Timeouts

	// Now is used when the field holds no parseable date and the picker
	// opens on the current month. Defaults to time.Now.
	Now func() time.Time
	// Sleep waits for the picker to re-render. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

func (n *Navigator) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Navigator) settle() {
	if n.Timeouts.Settle <= 0 {
		return
	}
	if n.Sleep != nil {
		n.Sleep(n.Timeouts.Settle)
		return
	}
	time.Sleep(n.Timeouts.Settle)
}

// Select makes the bound date field show target. It returns nil without
// touching the picker when the field already holds the target, and
// booking.ErrDateMismatch when the field disagrees after the day click.
func (n *Navigator) Select(ctx context.Context, target time.Time) error {
	want := target.Format(n.Locators.Layout)
	wait := n.Timeouts.Wait

	field, err := locator.Require(ctx, n.Driver, "date field", n.Locators.Field, driver.Present, wait)
	if err != nil {
		return err
	}
	current, err := n.Driver.ReadValue(ctx, field)
	if err != nil {
		return fmt.Errorf("read date field: %w", err)
	}
	if current == want {
		return nil
	}

	shown := MonthOf(n.now())
	if t, err := time.Parse(n.Locators.Layout, current); err == nil {
		shown = MonthOf(t)
	}

	if err := n.Driver.Click(ctx, field); err != nil {
		return fmt.Errorf("open date picker: %w", err)
	}
	if len(n.Locators.Widget) > 0 {
		if _, err := locator.Require(ctx, n.Driver, "date picker", n.Locators.Widget, driver.Present, wait); err != nil {
			return err
		}
	}

	for i, step := range Plan(shown, target) {
		chain := n.Locators.Next
		if step == Retreat {
			chain = n.Locators.Prev
		}
		btn, err := locator.Require(ctx, n.Driver, step.String()+" button", chain, driver.Clickable, wait)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if err := n.Driver.Click(ctx, btn); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	n.settle()

	day := n.Locators.Day.With("day", strconv.Itoa(target.Day()))
	cell, err := locator.Require(ctx, n.Driver, "day "+strconv.Itoa(target.Day()), day, driver.Clickable, wait)
	if err != nil {
		return err
	}
	if err := n.Driver.Click(ctx, cell); err != nil {
		return fmt.Errorf("click day: %w", err)
	}
	n.settle()

	// The picker may have replaced the input; look it up again.
	field, err = locator.Require(ctx, n.Driver, "date field", n.Locators.Field, driver.Present, wait)
	if err != nil {
		return err
	}
	got, err := n.Driver.ReadValue(ctx, field)
	if err != nil {
		return fmt.Errorf("read date field: %w", err)
	}
	if got != want {
		return fmt.Errorf("date field shows %q, want %q: %w", got, want, booking.ErrDateMismatch)
	}
	return nil
}
