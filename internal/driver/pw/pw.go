// Package pw is a driver.Driver backed by playwright-go. It exists for sites
// where the DevTools driver trips over custom widgets.
package pw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/driver"
)

type Options struct {
	// RemoteURL is a CDP endpoint to attach to instead of launching Chromium.
	RemoteURL string
	Headless  bool
}

type Driver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

var _ driver.Driver = (*Driver)(nil)
var _ driver.Screenshotter = (*Driver)(nil)

func New(_ context.Context, opts Options) (*Driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}
	var browser playwright.Browser
	if opts.RemoteURL != "" {
		browser, err = pw.Chromium.ConnectOverCDP(opts.RemoteURL)
	} else {
		browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
	}
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	page, err := browser.NewPage(playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{Width: 1440, Height: 1000},
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("could not create page: %w", err)
	}
	return &Driver{pw: pw, browser: browser, page: page}, nil
}

func selector(d driver.Descriptor) string {
	if css, ok := d.CSS(); ok {
		return css
	}
	return "xpath=" + d.Selector
}

func handle(el driver.Element) (playwright.ElementHandle, error) {
	h, ok := el.(playwright.ElementHandle)
	if !ok || h == nil {
		return nil, fmt.Errorf("pw: foreign element %T", el)
	}
	return h, nil
}

func (d *Driver) Navigate(_ context.Context, url string) error {
	if _, err := d.page.Goto(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (d *Driver) Locate(_ context.Context, desc driver.Descriptor) (driver.Element, bool, error) {
	h, err := d.page.QuerySelector(selector(desc))
	if err != nil {
		return nil, false, fmt.Errorf("locate %s: %w", desc, err)
	}
	if h == nil {
		return nil, false, nil
	}
	return h, true, nil
}

func (d *Driver) LocateAll(_ context.Context, desc driver.Descriptor) ([]driver.Element, error) {
	hs, err := d.page.QuerySelectorAll(selector(desc))
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", desc, err)
	}
	out := make([]driver.Element, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out, nil
}

func (d *Driver) LocateWithin(_ context.Context, parent driver.Element, desc driver.Descriptor) ([]driver.Element, error) {
	p, err := handle(parent)
	if err != nil {
		return nil, err
	}
	hs, err := p.QuerySelectorAll(selector(desc))
	if err != nil {
		return nil, fmt.Errorf("locate %s within element: %w", desc, err)
	}
	out := make([]driver.Element, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out, nil
}

// Wait polls every match instead of WaitForSelector, which only looks at
// the first match in non-strict mode.
func (d *Driver) Wait(ctx context.Context, desc driver.Descriptor, cond driver.Condition, timeout time.Duration) (driver.Element, error) {
	el, ok, err := driver.Poll(ctx, timeout, func() (driver.Element, error) {
		hs, err := d.page.QuerySelectorAll(selector(desc))
		if err != nil {
			// The page may be mid-render; only cancellation ends the wait.
			return nil, ctx.Err()
		}
		for _, h := range hs {
			if satisfies(h, cond) {
				return h, nil
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("wait %s: %w", desc, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s not %s after %s: %w", desc, cond, timeout, booking.ErrTimeout)
	}
	return el, nil
}

func satisfies(h playwright.ElementHandle, cond driver.Condition) bool {
	if cond == driver.Present {
		return true
	}
	if visible, err := h.IsVisible(); err != nil || !visible {
		return false
	}
	if cond == driver.Clickable {
		enabled, err := h.IsEnabled()
		return err == nil && enabled
	}
	return true
}

func (d *Driver) Click(_ context.Context, el driver.Element) error {
	h, err := handle(el)
	if err != nil {
		return err
	}
	return h.Click()
}

func (d *Driver) Type(_ context.Context, el driver.Element, text string) error {
	h, err := handle(el)
	if err != nil {
		return err
	}
	return h.Fill(text)
}

func (d *Driver) PressEnter(_ context.Context, el driver.Element) error {
	h, err := handle(el)
	if err != nil {
		return err
	}
	return h.Press("Enter")
}

func (d *Driver) ReadValue(_ context.Context, el driver.Element) (string, error) {
	h, err := handle(el)
	if err != nil {
		return "", err
	}
	return h.InputValue()
}

func (d *Driver) ReadText(_ context.Context, el driver.Element) (string, error) {
	h, err := handle(el)
	if err != nil {
		return "", err
	}
	s, err := h.InnerText()
	return strings.TrimSpace(s), err
}

func (d *Driver) ReadHTML(_ context.Context, el driver.Element) (string, error) {
	h, err := handle(el)
	if err != nil {
		return "", err
	}
	v, err := h.Evaluate("el => el.outerHTML")
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (d *Driver) Run(_ context.Context, el driver.Element, script string) (bool, error) {
	h, err := handle(el)
	if err != nil {
		return false, err
	}
	v, err := h.Evaluate("(el) => {\n" + script + "\n}")
	if err != nil {
		return false, fmt.Errorf("script: %w", err)
	}
	b, _ := v.(bool)
	return b, nil
}

func (d *Driver) Screenshot(_ context.Context) ([]byte, error) {
	buf, err := d.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

func (d *Driver) Close() error {
	var errs []error
	if err := d.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := d.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}
