package players

import (
	"context"
	"fmt"
	"time"

	"github.com/example/court-scheduler/internal/driver"
	"github.com/example/court-scheduler/internal/locator"
)

// FormSubmitter is a Submitter for the opponent fields of the booking modal.
type FormSubmitter struct {
	Driver    driver.Driver
	Fields    []locator.Field
	Rejection locator.Chain
	Timeouts  locator.Timeouts
	// Sleep waits for the lookup to update the modal. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

var _ Submitter = (*FormSubmitter)(nil)

// FieldNames returns the configured field names, falling back to a
// positional name.
func FieldNames(fields []locator.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
		if names[i] == "" {
			names[i] = fmt.Sprintf("opponent%d", i+1)
		}
	}
	return names
}

func (f *FormSubmitter) input(ctx context.Context, i int) (driver.Element, error) {
	if i < 0 || i >= len(f.Fields) {
		return nil, fmt.Errorf("no player field %d", i)
	}
	return locator.Require(ctx, f.Driver, fmt.Sprintf("player field %d", i+1), f.Fields[i].Input, driver.Present, f.Timeouts.Wait)
}

func (f *FormSubmitter) Submit(ctx context.Context, i int, name string) (Signal, error) {
	in, err := f.input(ctx, i)
	if err != nil {
		return Signal{}, err
	}
	if err := f.Driver.Type(ctx, in, name); err != nil {
		return Signal{}, fmt.Errorf("type name: %w", err)
	}
	if lookup := f.Fields[i].Lookup; len(lookup) > 0 {
		btn, err := locator.Require(ctx, f.Driver, "player search", lookup, driver.Present, f.Timeouts.Wait)
		if err != nil {
			return Signal{}, err
		}
		// The search control is a span with an onclick handler that a
		// synthetic mouse click does not always reach.
		if _, err := f.Driver.Run(ctx, btn, driver.ScriptClick); err != nil {
			return Signal{}, fmt.Errorf("trigger search: %w", err)
		}
	}
	f.settle()

	var sig Signal
	if sig.Error, err = f.visibleText(ctx, f.Rejection); err != nil {
		return Signal{}, err
	}
	if sig.Error != "" {
		return sig, nil
	}

	// The lookup re-renders the modal, so the input is found again.
	if in, err = f.input(ctx, i); err != nil {
		return Signal{}, err
	}
	if sig.Value, err = f.Driver.ReadValue(ctx, in); err != nil {
		return Signal{}, fmt.Errorf("read field: %w", err)
	}
	if adv := f.Fields[i].Advisory; len(adv) > 0 {
		res, err := locator.Resolve(ctx, f.Driver, adv, driver.Present, 0)
		if err != nil {
			return Signal{}, err
		}
		if res.Found {
			// A tooltip we cannot read must not pass for no tooltip.
			if sig.Advisory, err = f.Driver.ReadText(ctx, res.Element); err != nil {
				return Signal{}, fmt.Errorf("read advisory: %w", err)
			}
		}
	}
	return sig, nil
}

func (f *FormSubmitter) Value(ctx context.Context, i int) (string, error) {
	in, err := f.input(ctx, i)
	if err != nil {
		return "", err
	}
	return f.Driver.ReadValue(ctx, in)
}

// visibleText returns the text of the first displayed, non-empty element
// matched by any descriptor of chain.
func (f *FormSubmitter) visibleText(ctx context.Context, chain locator.Chain) (string, error) {
	for _, d := range chain {
		els, err := f.Driver.LocateAll(ctx, d)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		for _, el := range els {
			shown, err := f.Driver.Run(ctx, el, driver.ScriptIsDisplayed)
			if err != nil || !shown {
				continue
			}
			text, err := f.Driver.ReadText(ctx, el)
			if err != nil {
				return "", fmt.Errorf("read rejection alert: %w", err)
			}
			if text != "" {
				return text, nil
			}
		}
	}
	return "", nil
}

func (f *FormSubmitter) settle() {
	if f.Timeouts.Settle <= 0 {
		return
	}
	if f.Sleep != nil {
		f.Sleep(f.Timeouts.Settle)
		return
	}
	time.Sleep(f.Timeouts.Settle)
}
