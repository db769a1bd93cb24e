package browser

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("browser is not connected")
	ErrPageNotFound = errors.New("browser page not found")
)

// PageInfo describes one page target inside the remote browser.
type PageInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// Driver is the narrow surface of the remote browser that the pool and
// the query protocol consume. The production implementation speaks the
// Chrome debugging protocol; tests substitute a fake.
type Driver interface {
	// ListPages returns all page targets currently open in the browser.
	ListPages(ctx context.Context) ([]PageInfo, error)

	// OpenPage opens a new page navigated to the given URL and returns
	// its target ID. The page outlives this client's connection.
	OpenPage(ctx context.Context, url string) (string, error)

	// ClosePage closes the page with the given target ID.
	ClosePage(ctx context.Context, targetID string) error

	// Navigate points an existing page at a new URL.
	Navigate(ctx context.Context, targetID, url string) error

	// Click clicks the first visible element matching the selector.
	Click(ctx context.Context, targetID, selector string) error

	// Focus focuses the first element matching the selector.
	Focus(ctx context.Context, targetID, selector string) error

	// SendKeys types the given keys into the element matching the selector.
	SendKeys(ctx context.Context, targetID, selector, keys string) error

	// Evaluate runs a JavaScript expression in the page and unmarshals
	// the result into out.
	Evaluate(ctx context.Context, targetID, expression string, out interface{}) error

	// PageURL returns the current location of the page.
	PageURL(ctx context.Context, targetID string) (string, error)
}
