package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/calendar"
	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/driver"
	"github.com/example/court-scheduler/internal/locator"
	"github.com/example/court-scheduler/internal/players"
	"github.com/example/court-scheduler/internal/slots"
)

// BrowserSteps implements Steps against a live page described by a profile.
type BrowserSteps struct {
	Driver  driver.Driver
	Profile *locator.Profile
	Logger  *zap.Logger

	// Sleep and Now are replaced in tests.
	Sleep func(time.Duration)
	Now   func() time.Time
}

var _ Steps = (*BrowserSteps)(nil)

func (b *BrowserSteps) log() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func (b *BrowserSteps) wait() time.Duration { return b.Profile.Timeouts.Wait }

func (b *BrowserSteps) settle() {
	d := b.Profile.Timeouts.Settle
	if d <= 0 {
		return
	}
	if b.Sleep != nil {
		b.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (b *BrowserSteps) require(ctx context.Context, what string, chain locator.Chain, cond driver.Condition) (driver.Element, error) {
	return locator.Require(ctx, b.Driver, what, chain, cond, b.wait())
}

// probe looks for an optional element with the short probe timeout.
func (b *BrowserSteps) probe(ctx context.Context, chain locator.Chain, cond driver.Condition) (driver.Element, bool, error) {
	if len(chain) == 0 {
		return nil, false, nil
	}
	res, err := locator.Resolve(ctx, b.Driver, chain, cond, b.Profile.Timeouts.Probe)
	return res.Element, res.Found, err
}

// clickScript clicks through the page's own handlers. Buttons on the site
// are spans with onclick handlers that a synthetic mouse event can miss.
func (b *BrowserSteps) clickScript(ctx context.Context, el driver.Element) error {
	_, err := b.Driver.Run(ctx, el, driver.ScriptClick)
	return err
}

func (b *BrowserSteps) Login(ctx context.Context, s *Session) error {
	lp := b.Profile.Login
	if err := b.Driver.Navigate(ctx, b.Profile.BaseURL); err != nil {
		return err
	}
	// The banner can cover the login link, so consent comes first.
	if err := b.HandleConsent(ctx, s); err != nil {
		b.log().Debug("consent banner not handled", zap.Error(err))
		s.consentSkipped(err)
	}

	if len(lp.Link) > 0 {
		link, err := b.require(ctx, "login link", lp.Link, driver.Clickable)
		if err != nil {
			return err
		}
		if err := b.Driver.Click(ctx, link); err != nil {
			return fmt.Errorf("open login: %w", err)
		}
	}
	if len(lp.Modal) > 0 {
		if _, err := b.require(ctx, "login modal", lp.Modal, driver.Visible); err != nil {
			return err
		}
		b.settle()
	}

	user, err := b.require(ctx, "username field", lp.Username, driver.Present)
	if err != nil {
		return err
	}
	pass, err := b.require(ctx, "password field", lp.Password, driver.Present)
	if err != nil {
		return err
	}
	if err := b.Driver.Type(ctx, user, s.Request.Credentials.Username); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}
	if err := b.Driver.Type(ctx, pass, s.Request.Credentials.Password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}

	if box, ok, err := b.probe(ctx, lp.Remember, driver.Present); err != nil {
		return err
	} else if ok {
		if checked, err := b.Driver.Run(ctx, box, driver.ScriptIsChecked); err == nil && !checked {
			if err := b.Driver.Click(ctx, box); err != nil {
				b.log().Debug("stay logged in checkbox not clickable", zap.Error(err))
			}
		}
	}

	submitted := false
	if lp.SubmitWithEnter {
		if err := b.Driver.PressEnter(ctx, pass); err != nil {
			b.log().Debug("enter key submit failed, using button", zap.Error(err))
		} else {
			submitted = true
		}
	}
	if !submitted {
		btn, err := b.require(ctx, "login button", lp.Submit, driver.Present)
		if err != nil {
			return err
		}
		if err := b.clickScript(ctx, btn); err != nil {
			if err := b.Driver.Click(ctx, btn); err != nil {
				return fmt.Errorf("submit login: %w", err)
			}
		}
	}

	if _, err := b.require(ctx, "logged-in indicator", lp.LoggedIn, driver.Present); err != nil {
		return fmt.Errorf("login not confirmed: %w", err)
	}
	return nil
}

// HandleConsent clicks the consent banner if one shows up within the probe
// timeout. Absence is not an error. It does nothing once s.ConsentHandled.
func (b *BrowserSteps) HandleConsent(ctx context.Context, s *Session) error {
	if s.ConsentHandled {
		return nil
	}
	s.ConsentHandled = true
	btn, ok, err := b.probe(ctx, b.Profile.Consent, driver.Clickable)
	if err != nil || !ok {
		return err
	}
	return b.Driver.Click(ctx, btn)
}

func (b *BrowserSteps) SelectCategory(ctx context.Context, s *Session) error {
	cp := b.Profile.Category
	category := s.Request.Category

	if cp.Mode == locator.CategorySelect {
		sel, err := b.require(ctx, "category select", cp.Select.With("category", category), driver.Present)
		if err != nil {
			return err
		}
		ok, err := b.Driver.Run(ctx, sel, fmt.Sprintf(driver.ScriptSelectOption, category))
		if err != nil {
			return fmt.Errorf("select category: %w", err)
		}
		if !ok {
			return fmt.Errorf("category %q not offered: %w", category, booking.ErrElementNotFound)
		}
		b.settle()
		return nil
	}

	toggle, err := b.require(ctx, "category dropdown", cp.Toggle, driver.Clickable)
	if err != nil {
		return err
	}
	if cur, ok, err := b.probe(ctx, cp.Current, driver.Present); err != nil {
		return err
	} else if ok {
		if text, err := b.Driver.ReadText(ctx, cur); err == nil && text == category {
			return nil
		}
	}
	if err := b.Driver.Click(ctx, toggle); err != nil {
		return fmt.Errorf("open category dropdown: %w", err)
	}
	opt, err := b.require(ctx, "category "+category, cp.Option.With("category", category), driver.Present)
	if err != nil {
		return err
	}
	if err := b.Driver.Click(ctx, opt); err != nil {
		return fmt.Errorf("pick category: %w", err)
	}
	b.settle()
	return nil
}

func (b *BrowserSteps) SelectDate(ctx context.Context, s *Session) error {
	nav := &calendar.Navigator{
		Driver:   b.Driver,
		Locators: b.Profile.Calendar,
		Timeouts: b.Profile.Timeouts,
		Now:      b.Now,
		Sleep:    b.Sleep,
	}
	return nav.Select(ctx, s.Request.Date)
}

func (b *BrowserSteps) FindSlots(ctx context.Context, s *Session) ([]booking.Slot, error) {
	sc := &slots.Scanner{Driver: b.Driver, Grid: b.Profile.Grid, Timeouts: b.Profile.Timeouts}
	res, err := sc.Scan(ctx, s.Request.StartTime)
	if err != nil {
		return nil, err
	}
	for _, sk := range res.Skipped {
		b.log().Debug("grid candidate skipped",
			zap.Int("index", sk.Index),
			zap.String("text", sk.Text),
			zap.String("reason", sk.Reason),
		)
	}
	return res.Slots, nil
}

func (b *BrowserSteps) SelectSlot(ctx context.Context, s *Session, slot booking.Slot) error {
	if slot.Handle == nil {
		return fmt.Errorf("slot %s has no element: %w", slot, booking.ErrElementNotFound)
	}
	if err := b.clickScript(ctx, slot.Handle); err != nil {
		return fmt.Errorf("click slot %s: %w", slot, err)
	}
	if len(b.Profile.Players.Modal) > 0 {
		if _, err := b.require(ctx, "player form", b.Profile.Players.Modal, driver.Present); err != nil {
			return err
		}
	}
	return nil
}

func (b *BrowserSteps) AssignPlayers(ctx context.Context, s *Session) ([]booking.Binding, error) {
	pp := b.Profile.Players
	engine := &players.Engine{
		Roster: s.Request.Roster,
		Fields: players.FieldNames(pp.Fields),
		State:  s.Players,
		Trace:  s.OnSubmission,
	}
	if s.Request.UseVisitors {
		engine.Visitor = pp.VisitorName
	}
	form := &players.FormSubmitter{
		Driver:    b.Driver,
		Fields:    pp.Fields,
		Rejection: pp.Rejection,
		Timeouts:  b.Profile.Timeouts,
		Sleep:     b.Sleep,
	}
	return engine.Assign(ctx, form)
}

func (b *BrowserSteps) AddToBasket(ctx context.Context, s *Session) error {
	cp := b.Profile.Checkout
	// Wait skips the hidden copies inactive modals keep of this button.
	btn, err := b.require(ctx, "add to basket button", cp.AddToBasket, driver.Visible)
	if err != nil {
		return err
	}
	if err := b.clickScript(ctx, btn); err != nil {
		return fmt.Errorf("add to basket: %w", err)
	}
	if _, err := b.require(ctx, "basket terms checkbox", cp.Terms, driver.Present); err != nil {
		return fmt.Errorf("basket page did not load: %w", err)
	}
	return nil
}

// AcceptTerms ticks the terms checkbox, escalating from a label click to
// setting the state by script to a scripted click with a change event.
func (b *BrowserSteps) AcceptTerms(ctx context.Context, s *Session) error {
	cp := b.Profile.Checkout
	box, err := b.require(ctx, "terms checkbox", cp.Terms, driver.Present)
	if err != nil {
		return err
	}

	if label, ok, err := b.probe(ctx, cp.TermsLabel, driver.Present); err == nil && ok {
		if err := b.Driver.Click(ctx, label); err != nil {
			b.log().Debug("terms label click failed", zap.Error(err))
		}
	}
	for _, script := range []string{driver.ScriptForceChecked, driver.ScriptClickChange} {
		if checked, err := b.Driver.Run(ctx, box, driver.ScriptIsChecked); err == nil && checked {
			return nil
		}
		if _, err := b.Driver.Run(ctx, box, script); err != nil {
			b.log().Debug("terms checkbox script failed", zap.Error(err))
		}
	}
	checked, err := b.Driver.Run(ctx, box, driver.ScriptIsChecked)
	if err != nil {
		return fmt.Errorf("read terms checkbox: %w", err)
	}
	if !checked {
		if html, err := b.Driver.ReadHTML(ctx, box); err == nil {
			b.log().Debug("terms checkbox still unchecked", zap.String("html", html))
		}
		return fmt.Errorf("terms checkbox could not be checked")
	}
	return nil
}

func (b *BrowserSteps) Confirm(ctx context.Context, s *Session) error {
	cp := b.Profile.Checkout
	btn, err := b.require(ctx, "confirm button", cp.Confirm, driver.Visible)
	if err != nil {
		return err
	}
	if err := b.clickScript(ctx, btn); err != nil {
		return fmt.Errorf("confirm booking: %w", err)
	}
	res, err := locator.Await(ctx, b.Driver, cp.Confirmation, driver.Present, b.wait())
	if err != nil {
		return err
	}
	if !res.Found {
		return fmt.Errorf("no confirmation after %s: %w", b.wait(), booking.ErrConfirmationNotDetected)
	}
	if text, err := b.Driver.ReadText(ctx, res.Element); err == nil {
		b.log().Info("booking confirmation", zap.String("text", text))
	}
	return nil
}

func (b *BrowserSteps) AbandonSlot(ctx context.Context, s *Session) {
	btn, ok, err := b.probe(ctx, b.Profile.Checkout.Dismiss, driver.Clickable)
	if err != nil || !ok {
		return
	}
	if err := b.Driver.Click(ctx, btn); err != nil {
		b.log().Debug("dismiss failed", zap.Error(err))
	}
	b.settle()
}
