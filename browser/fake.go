package browser

import (
	"context"
	"fmt"
	"sync"
)

// FakePage is one simulated page inside a Fake driver.
type FakePage struct {
	URL string
	// EvalResults maps a JavaScript expression to the value Evaluate
	// should unmarshal into out (via simple assignment of the stored
	// function's output).
	EvalResults map[string]func(out interface{}) error
	Clicks      []string
	Keys        []string
}

// Fake is an in-memory Driver implementation for tests.
type Fake struct {
	mu      sync.Mutex
	nextID  int
	pages   map[string]*FakePage
	OpenErr error
}

// NewFake creates an empty fake driver.
func NewFake() *Fake {
	return &Fake{pages: make(map[string]*FakePage)}
}

// Page returns the simulated page for direct inspection in tests.
func (f *Fake) Page(targetID string) *FakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[targetID]
}

// RemovePage simulates a page being closed externally.
func (f *Fake) RemovePage(targetID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, targetID)
}

// SetEvalResult configures the value returned for an Evaluate expression.
func (f *Fake) SetEvalResult(targetID, expression string, fn func(out interface{}) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pages[targetID]
	if p == nil {
		return
	}
	if p.EvalResults == nil {
		p.EvalResults = make(map[string]func(out interface{}) error)
	}
	p.EvalResults[expression] = fn
}

func (f *Fake) ListPages(ctx context.Context) ([]PageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := make([]PageInfo, 0, len(f.pages))
	for id, p := range f.pages {
		pages = append(pages, PageInfo{TargetID: id, URL: p.URL})
	}
	return pages, nil
}

func (f *Fake) OpenPage(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return "", f.OpenErr
	}
	f.nextID++
	id := fmt.Sprintf("target-%d", f.nextID)
	f.pages[id] = &FakePage{URL: url}
	return id, nil
}

func (f *Fake) ClosePage(ctx context.Context, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pages[targetID]; !ok {
		return fmt.Errorf("%w: %s", ErrPageNotFound, targetID)
	}
	delete(f.pages, targetID)
	return nil
}

func (f *Fake) Navigate(ctx context.Context, targetID, url string) error {
	p, err := f.page(targetID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	p.URL = url
	f.mu.Unlock()
	return nil
}

func (f *Fake) Click(ctx context.Context, targetID, selector string) error {
	p, err := f.page(targetID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	p.Clicks = append(p.Clicks, selector)
	f.mu.Unlock()
	return nil
}

func (f *Fake) Focus(ctx context.Context, targetID, selector string) error {
	_, err := f.page(targetID)
	return err
}

func (f *Fake) SendKeys(ctx context.Context, targetID, selector, keys string) error {
	p, err := f.page(targetID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	p.Keys = append(p.Keys, keys)
	f.mu.Unlock()
	return nil
}

func (f *Fake) Evaluate(ctx context.Context, targetID, expression string, out interface{}) error {
	p, err := f.page(targetID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	fn := p.EvalResults[expression]
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(out)
}

func (f *Fake) PageURL(ctx context.Context, targetID string) (string, error) {
	p, err := f.page(targetID)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return p.URL, nil
}

func (f *Fake) page(targetID string) (*FakePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[targetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, targetID)
	}
	return p, nil
}
