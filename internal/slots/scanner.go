package slots

import (
	"context"
	"fmt"

	"github.com/example/court-scheduler/internal/driver"
	"github.com/example/court-scheduler/internal/locator"
)

// Scanner reads the live grid through a driver, scans it and binds each
// resulting slot to its element so it can be clicked.
type Scanner struct {
	Driver   driver.Driver
	Grid     locator.Grid
	Timeouts locator.Timeouts
}

func (s *Scanner) Scan(ctx context.Context, start string) (Result, error) {
	found, err := locator.Resolve(ctx, s.Driver, s.Grid.Container, driver.Present, s.Timeouts.Wait)
	if err != nil {
		return Result{}, err
	}
	if !found.Found {
		_, err := locator.Require(ctx, s.Driver, "slot grid", s.Grid.Container, driver.Present, 0)
		return Result{}, err
	}
	html, err := s.Driver.ReadHTML(ctx, found.Element)
	if err != nil {
		return Result{}, fmt.Errorf("read grid: %w", err)
	}
	res, err := Scan(html, s.Grid, start)
	if err != nil || len(res.Slots) == 0 {
		return res, err
	}

	// Bind inside the container we read so indices match the scanned HTML.
	els, err := s.Driver.LocateWithin(ctx, found.Element, driver.Descriptor{Strategy: driver.ByCSS, Selector: s.Grid.Candidate})
	if err != nil {
		return Result{}, fmt.Errorf("bind slots: %w", err)
	}
	bound := res.Slots[:0]
	for _, slot := range res.Slots {
		if slot.Index >= len(els) {
			res.Skipped = append(res.Skipped, Skipped{Index: slot.Index, Text: slot.String(), Reason: "grid changed before binding"})
			continue
		}
		slot.Handle = els[slot.Index]
		bound = append(bound, slot)
	}
	res.Slots = bound
	return res, nil
}
