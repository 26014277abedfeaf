// Package locator resolves ordered fallback chains of element descriptors
// and loads the per-site profile those chains live in.
package locator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/driver"
)

// Chain is an ordered list of alternative ways to find one logical element.
// Order is significant: the first descriptor that resolves wins.
type Chain []driver.Descriptor

// With returns a copy of c with every {key} placeholder replaced by value.
func (c Chain) With(key, value string) Chain {
	placeholder := "{" + key + "}"
	out := make(Chain, len(c))
	for i, d := range c {
		d.Selector = strings.ReplaceAll(d.Selector, placeholder, value)
		out[i] = d
	}
	return out
}

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, d := range c {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, " | ") + "]"
}

// UnmarshalYAML accepts either "by=selector" scalars or {by, selector} maps.
func (c *Chain) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d, err := ParseDescriptor(value.Value)
		if err != nil {
			return err
		}
		*c = Chain{d}
		return nil
	}
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: locator chain must be a list", value.Line)
	}
	out := make(Chain, 0, len(value.Content))
	for _, n := range value.Content {
		var d driver.Descriptor
		if n.Kind == yaml.ScalarNode {
			var err error
			if d, err = ParseDescriptor(n.Value); err != nil {
				return fmt.Errorf("line %d: %w", n.Line, err)
			}
		} else if err := n.Decode(&d); err != nil {
			return err
		}
		out = append(out, d)
	}
	*c = out
	return nil
}

// ParseDescriptor parses the "by=selector" form, e.g. "xpath=//a[@id='x']".
func ParseDescriptor(s string) (driver.Descriptor, error) {
	by, sel, ok := strings.Cut(s, "=")
	if !ok {
		return driver.Descriptor{}, fmt.Errorf("descriptor %q: want by=selector", s)
	}
	switch st := driver.Strategy(strings.TrimSpace(by)); st {
	case driver.ByCSS, driver.ByXPath, driver.ByID, driver.ByName:
		return driver.Descriptor{Strategy: st, Selector: strings.TrimSpace(sel)}, nil
	}
	return driver.Descriptor{}, fmt.Errorf("descriptor %q: unknown strategy %q", s, by)
}

// Result is the outcome of resolving a chain. A miss is Found=false, not an
// error.
type Result struct {
	Found      bool
	Element    driver.Element
	Descriptor driver.Descriptor
	// Index is the position of the winning descriptor in the chain.
	Index int
}

// Resolve tries each descriptor of chain in order, waiting up to perAttempt
// for cond, and returns the first hit. A perAttempt of zero probes without
// waiting. The only errors returned are context errors; everything else the
// driver reports counts as a miss for that descriptor.
func Resolve(ctx context.Context, drv driver.Driver, chain Chain, cond driver.Condition, perAttempt time.Duration) (Result, error) {
	for i, d := range chain {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		var (
			el  driver.Element
			err error
			ok  = true
		)
		if perAttempt <= 0 {
			el, ok, err = drv.Locate(ctx, d)
		} else {
			el, err = drv.Wait(ctx, d, cond, perAttempt)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			continue
		}
		if ok {
			return Result{Found: true, Element: el, Descriptor: d, Index: i}, nil
		}
	}
	return Result{}, nil
}

// Await polls the whole chain until some descriptor satisfies cond, with one
// timeout for the chain rather than one per descriptor. Earlier descriptors
// win when several match in the same pass. Like Resolve it only returns
// context errors.
func Await(ctx context.Context, drv driver.Driver, chain Chain, cond driver.Condition, timeout time.Duration) (Result, error) {
	var res Result
	_, _, err := driver.Poll(ctx, timeout, func() (driver.Element, error) {
		for i, d := range chain {
			el, err := drv.Wait(ctx, d, cond, 0)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			res = Result{Found: true, Element: el, Descriptor: d, Index: i}
			return el, nil
		}
		return nil, nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Require is Resolve for elements the caller cannot proceed without: a miss
// becomes booking.ErrElementNotFound.
func Require(ctx context.Context, drv driver.Driver, what string, chain Chain, cond driver.Condition, perAttempt time.Duration) (driver.Element, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%s: no locators configured: %w", what, booking.ErrElementNotFound)
	}
	res, err := Resolve(ctx, drv, chain, cond, perAttempt)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, fmt.Errorf("%s not %s via %s: %w", what, cond, chain, booking.ErrElementNotFound)
	}
	return res.Element, nil
}
