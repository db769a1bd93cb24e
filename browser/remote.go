package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// Remote drives a browser process over its remote debugging address.
// The browser itself is long-running and external; closing this client
// detaches from it without killing any pages.
type Remote struct {
	debugURL  string
	opTimeout time.Duration
	logger    logger.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabs          map[string]*tabConn
}

type tabConn struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRemote creates a client for the browser at the given debugging URL
// (e.g. ws://127.0.0.1:9222). Connect must be called before use.
func NewRemote(debugURL string, opTimeout time.Duration, log logger.Logger) *Remote {
	if log == nil {
		log = logger.Nop{}
	}
	if opTimeout <= 0 {
		opTimeout = 30 * time.Second
	}
	return &Remote{
		debugURL:  debugURL,
		opTimeout: opTimeout,
		logger:    log,
		tabs:      make(map[string]*tabConn),
	}
}

// Connect dials the remote debugger and attaches a browser context.
func (r *Remote) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), r.debugURL, chromedp.NoModifyURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Establish the websocket eagerly so connection failures surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to connect to browser at %s: %w", r.debugURL, err)
	}

	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel

	r.logger.Info(ctx, "connected to remote browser", map[string]interface{}{
		"debug_url": r.debugURL,
	})

	return nil
}

// Close detaches from the browser. Pages stay open in the remote process.
func (r *Remote) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, tc := range r.tabs {
		tc.cancel()
		delete(r.tabs, id)
	}
	if r.browserCancel != nil {
		r.browserCancel()
		r.browserCancel = nil
		r.browserCtx = nil
	}
	if r.allocCancel != nil {
		r.allocCancel()
		r.allocCancel = nil
	}
}

// ListPages returns all open page targets.
func (r *Remote) ListPages(ctx context.Context) ([]PageInfo, error) {
	r.mu.Lock()
	browserCtx := r.browserCtx
	r.mu.Unlock()

	if browserCtx == nil {
		return nil, ErrNotConnected
	}

	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	pages := make([]PageInfo, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		pages = append(pages, PageInfo{
			TargetID: string(info.TargetID),
			URL:      info.URL,
			Title:    info.Title,
		})
	}

	return pages, nil
}

// OpenPage opens a new page at the given URL and returns its target ID.
func (r *Remote) OpenPage(ctx context.Context, url string) (string, error) {
	r.mu.Lock()
	browserCtx := r.browserCtx
	r.mu.Unlock()

	if browserCtx == nil {
		return "", ErrNotConnected
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)

	runCtx, cancel := context.WithTimeout(tabCtx, r.opTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		tabCancel()
		return "", fmt.Errorf("failed to open page at %s: %w", url, err)
	}

	targetID := string(chromedp.FromContext(tabCtx).Target.TargetID)

	r.mu.Lock()
	r.tabs[targetID] = &tabConn{ctx: tabCtx, cancel: tabCancel}
	r.mu.Unlock()

	r.logger.Debug(ctx, "opened browser page", map[string]interface{}{
		"target_id": targetID,
		"url":       url,
	})

	return targetID, nil
}

// ClosePage closes the page with the given target ID.
func (r *Remote) ClosePage(ctx context.Context, targetID string) error {
	tc, err := r.tabContext(targetID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(tc.ctx, r.opTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, page.Close()); err != nil {
		return fmt.Errorf("failed to close page %s: %w", targetID, err)
	}

	r.mu.Lock()
	if cached, ok := r.tabs[targetID]; ok {
		cached.cancel()
		delete(r.tabs, targetID)
	}
	r.mu.Unlock()

	return nil
}

// Navigate points an existing page at a new URL.
func (r *Remote) Navigate(ctx context.Context, targetID, url string) error {
	return r.run(targetID, chromedp.Navigate(url))
}

// Click clicks the first visible element matching the selector.
func (r *Remote) Click(ctx context.Context, targetID, selector string) error {
	return r.run(targetID, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Focus focuses the first element matching the selector.
func (r *Remote) Focus(ctx context.Context, targetID, selector string) error {
	return r.run(targetID, chromedp.Focus(selector, chromedp.ByQuery))
}

// SendKeys types the given keys into the element matching the selector.
func (r *Remote) SendKeys(ctx context.Context, targetID, selector, keys string) error {
	return r.run(targetID, chromedp.SendKeys(selector, keys, chromedp.ByQuery))
}

// Evaluate runs a JavaScript expression in the page context.
func (r *Remote) Evaluate(ctx context.Context, targetID, expression string, out interface{}) error {
	return r.run(targetID, chromedp.Evaluate(expression, out))
}

// PageURL returns the current location of the page.
func (r *Remote) PageURL(ctx context.Context, targetID string) (string, error) {
	var url string
	if err := r.run(targetID, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (r *Remote) run(targetID string, actions ...chromedp.Action) error {
	tc, err := r.tabContext(targetID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(tc.ctx, r.opTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if isDetachedErr(err) {
			r.dropTab(targetID)
			return fmt.Errorf("%w: %s", ErrPageNotFound, targetID)
		}
		return err
	}
	return nil
}

// tabContext returns an attached context for the target, dialing the
// attachment on first use.
func (r *Remote) tabContext(targetID string) (*tabConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx == nil {
		return nil, ErrNotConnected
	}
	if tc, ok := r.tabs[targetID]; ok {
		return tc, nil
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx, chromedp.WithTargetID(target.ID(targetID)))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, targetID)
	}

	tc := &tabConn{ctx: tabCtx, cancel: tabCancel}
	r.tabs[targetID] = tc
	return tc, nil
}

func (r *Remote) dropTab(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tc, ok := r.tabs[targetID]; ok {
		tc.cancel()
		delete(r.tabs, targetID)
	}
}

// isDetachedErr reports whether the error indicates the target is gone.
func isDetachedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such target") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "detached") ||
		strings.Contains(msg, "context canceled")
}
