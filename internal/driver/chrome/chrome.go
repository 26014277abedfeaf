// Package chrome drives Chrome over the DevTools protocol with chromedp,
// either by launching a local browser or by attaching to a remote
// debugging endpoint.
package chrome

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/driver"
)

type Options struct {
	// RemoteURL is a DevTools endpoint such as http://localhost:9222. When
	// empty a local browser is launched.
	RemoteURL string
	Headless  bool
	Logf      func(format string, args ...any)
}

// Driver is a driver.Driver backed by a single chromedp tab.
type Driver struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

var _ driver.Driver = (*Driver)(nil)
var _ driver.Screenshotter = (*Driver)(nil)

// New starts (or attaches to) a browser and opens a tab. The returned driver
// owns the browser until Close.
func New(ctx context.Context, opts Options) (*Driver, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		flags := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-popup-blocking", true),
			chromedp.Flag("start-maximized", true),
			chromedp.WindowSize(1440, 1000),
		)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, flags...)
	}

	var ctxOpts []chromedp.ContextOption
	if opts.Logf != nil {
		ctxOpts = append(ctxOpts, chromedp.WithLogf(opts.Logf))
	}
	tab, cancelTab := chromedp.NewContext(allocCtx, ctxOpts...)

	// An empty Run starts the browser and creates the target.
	if err := chromedp.Run(tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &Driver{tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

// run executes actions on the tab, bounded by both ctx and timeout.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	return chromedp.Run(runCtx, actions...)
}

func query(d driver.Descriptor) (string, chromedp.QueryOption) {
	if css, ok := d.CSS(); ok {
		return css, chromedp.ByQueryAll
	}
	return d.Selector, chromedp.BySearch
}

func node(el driver.Element) (*cdp.Node, error) {
	n, ok := el.(*cdp.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("chrome: foreign element %T", el)
	}
	return n, nil
}

func ids(n *cdp.Node) []cdp.NodeID {
	return []cdp.NodeID{n.NodeID}
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (d *Driver) Locate(ctx context.Context, desc driver.Descriptor) (driver.Element, bool, error) {
	nodes, err := d.nodes(ctx, desc)
	if err != nil || len(nodes) == 0 {
		return nil, false, err
	}
	return nodes[0], true, nil
}

func (d *Driver) LocateAll(ctx context.Context, desc driver.Descriptor) ([]driver.Element, error) {
	nodes, err := d.nodes(ctx, desc)
	if err != nil {
		return nil, err
	}
	out := make([]driver.Element, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out, nil
}

func (d *Driver) nodes(ctx context.Context, desc driver.Descriptor) ([]*cdp.Node, error) {
	sel, by := query(desc)
	var nodes []*cdp.Node
	if err := d.run(ctx, 0, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("locate %s: %w", desc, err)
	}
	return nodes, nil
}

// LocateWithin runs a CSS query rooted at parent. DevTools search cannot be
// scoped to a node, so XPath is rejected.
func (d *Driver) LocateWithin(ctx context.Context, parent driver.Element, desc driver.Descriptor) ([]driver.Element, error) {
	p, err := node(parent)
	if err != nil {
		return nil, err
	}
	sel, ok := desc.CSS()
	if !ok {
		return nil, fmt.Errorf("locate %s within node: css selector required", desc)
	}
	var nodes []*cdp.Node
	if err := d.run(ctx, 0, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.FromNode(p), chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("locate %s within node: %w", desc, err)
	}
	out := make([]driver.Element, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out, nil
}

// Wait polls the page rather than using chromedp's NodeVisible, which only
// succeeds once every match is visible.
func (d *Driver) Wait(ctx context.Context, desc driver.Descriptor, cond driver.Condition, timeout time.Duration) (driver.Element, error) {
	el, ok, err := driver.Poll(ctx, timeout, func() (driver.Element, error) {
		nodes, err := d.nodes(ctx, desc)
		if err != nil {
			// The page may be mid-render; only cancellation ends the wait.
			return nil, ctx.Err()
		}
		for _, n := range nodes {
			if d.satisfies(ctx, n, cond) {
				return n, nil
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

func (d *Driver) satisfies(ctx context.Context, n *cdp.Node, cond driver.Condition) bool {
	if cond == driver.Present {
		return true
	}
	// A node detached since the query reads as not displayed.
	shown, err := d.Run(ctx, n, driver.ScriptIsDisplayed)
	if err != nil || !shown {
		return false
	}
	if cond == driver.Clickable {
		enabled, err := d.Run(ctx, n, driver.ScriptIsEnabled)
		return err == nil && enabled
	}
	return true
}

func (d *Driver) Click(ctx context.Context, el driver.Element) error {
	n, err := node(el)
	if err != nil {
		return err
	}
	return d.run(ctx, 0, chromedp.MouseClickNode(n))
}

func (d *Driver) Type(ctx context.Context, el driver.Element, text string) error {
	n, err := node(el)
	if err != nil {
		return err
	}
	return d.run(ctx, 0,
		chromedp.Clear(ids(n), chromedp.ByNodeID),
		chromedp.SendKeys(ids(n), text, chromedp.ByNodeID),
	)
}

func (d *Driver) PressEnter(ctx context.Context, el driver.Element) error {
	n, err := node(el)
	if err != nil {
		return err
	}
	return d.run(ctx, 0, chromedp.SendKeys(ids(n), kb.Enter, chromedp.ByNodeID))
}

func (d *Driver) ReadValue(ctx context.Context, el driver.Element) (string, error) {
	n, err := node(el)
	if err != nil {
		return "", err
	}
	var v string
	err = d.run(ctx, 0, chromedp.Value(ids(n), &v, chromedp.ByNodeID))
	return v, err
}

func (d *Driver) ReadText(ctx context.Context, el driver.Element) (string, error) {
	n, err := node(el)
	if err != nil {
		return "", err
	}
	var s string
	err = d.run(ctx, 0, chromedp.Text(ids(n), &s, chromedp.ByNodeID))
	return strings.TrimSpace(s), err
}

func (d *Driver) ReadHTML(ctx context.Context, el driver.Element) (string, error) {
	n, err := node(el)
	if err != nil {
		return "", err
	}
	var s string
	err = d.run(ctx, 0, chromedp.OuterHTML(ids(n), &s, chromedp.ByNodeID))
	return s, err
}

func (d *Driver) Run(ctx context.Context, el driver.Element, script string) (bool, error) {
	n, err := node(el)
	if err != nil {
		return false, err
	}
	var result bool
	err = d.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(n.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		res, exc, err := runtime.CallFunctionOn("function() { const el = this;\n" + script + "\n}").
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script exception: %s", exc.Text)
		}
		result = res != nil && string(res.Value) == "true"
		return nil
	}))
	return result, err
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

func (d *Driver) Close() error {
	d.cancelTab()
	d.cancelAlloc()
	return nil
}
