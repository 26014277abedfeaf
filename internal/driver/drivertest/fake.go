// Package drivertest provides an in-memory driver.Driver for tests. Pages are
// modelled as a map from descriptor to elements; behaviour is attached with
// per-element hooks.
package drivertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/driver"
)

// Element is a fake page element.
type Element struct {
	Name     string
	Text     string
	Value    string
	HTML     string
	Checked  bool
	Hidden   bool
	Disabled bool

	// Within holds the element's descendants for LocateWithin.
	Within map[driver.Descriptor][]*Element

	// ClickErr and ReadErr, when set, are returned by Click and ReadText.
	ClickErr error
	ReadErr  error
	// OnClick runs after a click is recorded.
	OnClick func(d *Driver)
	// OnType runs after Value has been replaced.
	OnType func(d *Driver, text string)
	// OnRun overrides the default script handling.
	OnRun func(d *Driver, script string) (bool, error)
}

// Add places els inside e under desc.
func (e *Element) Add(desc driver.Descriptor, els ...*Element) *Element {
	if e.Within == nil {
		e.Within = make(map[driver.Descriptor][]*Element)
	}
	for _, el := range els {
		if el.Name == "" {
			el.Name = desc.Selector
		}
	}
	e.Within[desc] = els
	return e
}

// Driver is safe for use from a single run; the mutex only protects the
// action log against test goroutines reading it.
type Driver struct {
	mu      sync.Mutex
	els     map[driver.Descriptor][]*Element
	actions []string

	URL    string
	Closed bool
	Shots  int
}

var _ driver.Driver = (*Driver)(nil)
var _ driver.Screenshotter = (*Driver)(nil)

func New() *Driver {
	return &Driver{els: make(map[driver.Descriptor][]*Element)}
}

// Put replaces whatever is at desc with els.
func (d *Driver) Put(desc driver.Descriptor, els ...*Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range els {
		if el.Name == "" {
			el.Name = desc.Selector
		}
	}
	d.els[desc] = els
}

func (d *Driver) Remove(desc driver.Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.els, desc)
}

// Get returns the first element at desc, or nil.
func (d *Driver) Get(desc driver.Descriptor) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if els := d.els[desc]; len(els) > 0 {
		return els[0]
	}
	return nil
}

// Actions returns the action log, e.g. "click:#sub" or "type:medspiller=Ann".
func (d *Driver) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.actions...)
}

// Count returns how many logged actions start with prefix.
func (d *Driver) Count(prefix string) int {
	n := 0
	for _, a := range d.Actions() {
		if strings.HasPrefix(a, prefix) {
			n++
		}
	}
	return n
}

func (d *Driver) record(format string, args ...any) {
	d.mu.Lock()
	d.actions = append(d.actions, fmt.Sprintf(format, args...))
	d.mu.Unlock()
}

func element(el driver.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e == nil {
		return nil, fmt.Errorf("drivertest: foreign element %T", el)
	}
	return e, nil
}

func (d *Driver) Navigate(_ context.Context, url string) error {
	d.URL = url
	d.record("navigate:%s", url)
	return nil
}

func (d *Driver) Locate(_ context.Context, desc driver.Descriptor) (driver.Element, bool, error) {
	if e := d.Get(desc); e != nil {
		return e, true, nil
	}
	return nil, false, nil
}

func (d *Driver) LocateAll(_ context.Context, desc driver.Descriptor) ([]driver.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]driver.Element, 0, len(d.els[desc]))
	for _, e := range d.els[desc] {
		out = append(out, e)
	}
	return out, nil
}

func (d *Driver) LocateWithin(_ context.Context, parent driver.Element, desc driver.Descriptor) ([]driver.Element, error) {
	p, err := element(parent)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]driver.Element, 0, len(p.Within[desc]))
	for _, e := range p.Within[desc] {
		out = append(out, e)
	}
	return out, nil
}

// Wait never sleeps: the fake page is static between actions, so a missing
// element times out immediately. Like the real drivers it returns the first
// match that satisfies cond.
func (d *Driver) Wait(ctx context.Context, desc driver.Descriptor, cond driver.Condition, timeout time.Duration) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.record("wait:%s", desc.Selector)
	d.mu.Lock()
	els := d.els[desc]
	d.mu.Unlock()
	for _, e := range els {
		if cond == driver.Present || (!e.Hidden && !(cond == driver.Clickable && e.Disabled)) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s not %s after %s: %w", desc, cond, timeout, booking.ErrTimeout)
}

func (d *Driver) Click(_ context.Context, el driver.Element) error {
	e, err := element(el)
	if err != nil {
		return err
	}
	if e.ClickErr != nil {
		return e.ClickErr
	}
	d.record("click:%s", e.Name)
	if e.OnClick != nil {
		e.OnClick(d)
	}
	return nil
}

func (d *Driver) Type(_ context.Context, el driver.Element, text string) error {
	e, err := element(el)
	if err != nil {
		return err
	}
	d.record("type:%s=%s", e.Name, text)
	e.Value = text
	if e.OnType != nil {
		e.OnType(d, text)
	}
	return nil
}

func (d *Driver) PressEnter(_ context.Context, el driver.Element) error {
	e, err := element(el)
	if err != nil {
		return err
	}
	d.record("enter:%s", e.Name)
	if e.OnClick != nil {
		e.OnClick(d)
	}
	return nil
}

func (d *Driver) ReadValue(_ context.Context, el driver.Element) (string, error) {
	e, err := element(el)
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

func (d *Driver) ReadText(_ context.Context, el driver.Element) (string, error) {
	e, err := element(el)
	if err != nil {
		return "", err
	}
	if e.ReadErr != nil {
		return "", e.ReadErr
	}
	return e.Text, nil
}

func (d *Driver) ReadHTML(_ context.Context, el driver.Element) (string, error) {
	e, err := element(el)
	if err != nil {
		return "", err
	}
	return e.HTML, nil
}

// Run emulates the shared scripts: click scripts fire OnClick and checkbox
// scripts toggle Checked. Unknown scripts return true.
func (d *Driver) Run(_ context.Context, el driver.Element, script string) (bool, error) {
	e, err := element(el)
	if err != nil {
		return false, err
	}
	d.record("run:%s", e.Name)
	if e.OnRun != nil {
		return e.OnRun(d, script)
	}
	switch script {
	case driver.ScriptClick:
		if e.OnClick != nil {
			e.OnClick(d)
		}
		return true, nil
	case driver.ScriptIsChecked:
		return e.Checked, nil
	case driver.ScriptForceChecked, driver.ScriptClickChange:
		e.Checked = true
		return true, nil
	case driver.ScriptIsDisplayed:
		return !e.Hidden, nil
	case driver.ScriptIsEnabled:
		return !e.Disabled, nil
	}
	return true, nil
}

func (d *Driver) Screenshot(_ context.Context) ([]byte, error) {
	d.Shots++
	return []byte("png"), nil
}

func (d *Driver) Close() error {
	d.Closed = true
	d.record("close")
	return nil
}
