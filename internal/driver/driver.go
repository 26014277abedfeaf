// Package driver is the contract between the booking workflow and whatever
// actually operates the browser.
package driver

import (
	"context"
	"fmt"
	"time"
)

// Strategy tells a driver how to interpret a selector.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
	ByID    Strategy = "id"
	ByName  Strategy = "name"
)

// Descriptor is inert data describing one way to find an element.
type Descriptor struct {
	Strategy Strategy `yaml:"by"`
	Selector string   `yaml:"selector"`
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s=%s", d.Strategy, d.Selector)
}

// CSS returns an equivalent CSS selector when one exists.
func (d Descriptor) CSS() (string, bool) {
	switch d.Strategy {
	case ByCSS, "":
		return d.Selector, true
	case ByID:
		return "#" + d.Selector, true
	case ByName:
		return fmt.Sprintf("[name=%q]", d.Selector), true
	}
	return "", false
}

// XPath returns an equivalent XPath expression.
func (d Descriptor) XPath() string {
	switch d.Strategy {
	case ByID:
		return fmt.Sprintf("//*[@id=%q]", d.Selector)
	case ByName:
		return fmt.Sprintf("//*[@name=%q]", d.Selector)
	}
	return d.Selector
}

// Condition is what Wait waits for.
type Condition int

const (
	Present Condition = iota
	Visible
	Clickable
)

func (c Condition) String() string {
	switch c {
	case Visible:
		return "visible"
	case Clickable:
		return "clickable"
	}
	return "present"
}

// Element is an opaque handle to a located element. Only the driver that
// produced it can interpret it.
type Element any

// Driver operates a single exclusively-owned browser page.
//
// Wait returns the first element matching d that satisfies cond, so hidden
// copies ahead of a visible one are skipped. It returns booking.ErrTimeout
// (wrapped) when no match satisfies cond within timeout. Locate never waits
// and reports absence with ok=false.
type Driver interface {
	Navigate(ctx context.Context, url string) error

	Locate(ctx context.Context, d Descriptor) (el Element, ok bool, err error)
	LocateAll(ctx context.Context, d Descriptor) ([]Element, error)
	// LocateWithin finds the elements matching d in parent's subtree.
	LocateWithin(ctx context.Context, parent Element, d Descriptor) ([]Element, error)
	Wait(ctx context.Context, d Descriptor, cond Condition, timeout time.Duration) (Element, error)

	Click(ctx context.Context, el Element) error
	// Type replaces the element's value with text.
	Type(ctx context.Context, el Element, text string) error
	// PressEnter sends an Enter key press to the element.
	PressEnter(ctx context.Context, el Element) error
	ReadValue(ctx context.Context, el Element) (string, error)
	ReadText(ctx context.Context, el Element) (string, error)
	ReadHTML(ctx context.Context, el Element) (string, error)

	// Run executes script as a function body with the element bound to `el`
	// and returns its boolean result. It is the escape hatch for UI states no
	// structural primitive can reach.
	Run(ctx context.Context, el Element, script string) (bool, error)

	Close() error
}

// PollInterval is how often drivers re-check the page while waiting.
const PollInterval = 100 * time.Millisecond

// Poll calls find until it returns an element or an error, or until timeout
// has passed. find is always called at least once. ok is false on timeout.
func Poll(ctx context.Context, timeout time.Duration, find func() (Element, error)) (el Element, ok bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		found, err := find()
		if err != nil {
			return nil, false, err
		}
		if found != nil {
			return found, true, nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(min(left, PollInterval)):
		}
	}
}

// Screenshotter is implemented by drivers that can capture the page.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}
