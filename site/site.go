package site

import "errors"

var ErrUnknownServiceType = errors.New("unknown service type")

// Capability bundles everything the coordination layer needs to know
// about one target site: where its entry page lives, which elements to
// drive, and how to detect and extract a finished response. All DOM
// heuristics stay behind this interface so pool, lock, and protocol
// logic never touch site specifics.
type Capability interface {
	// ServiceType is the pool key for this site.
	ServiceType() string

	// EntryURL is the canonical URL a fresh tab is navigated to.
	EntryURL() string

	// LocateInput returns the CSS selector of the query input field.
	LocateInput() string

	// LocateModeToggle returns the CSS selector of the deep-research
	// toggle, or "" when the site has no such mode.
	LocateModeToggle() string

	// LocateNewThread returns the CSS selector of the new-conversation
	// affordance used for a soft in-page reset.
	LocateNewThread() string

	// LocateCompletionSignal returns a JavaScript expression that
	// evaluates to true once the response has finished generating.
	LocateCompletionSignal() string

	// ExtractResult returns a JavaScript expression producing the
	// structured result: {answer, sources, related_questions}.
	ExtractResult() string
}

// New returns the capability implementation for the given service type.
func New(serviceType string) (Capability, error) {
	switch serviceType {
	case ServiceTypePerplexity:
		return Perplexity{}, nil
	default:
		return nil, ErrUnknownServiceType
	}
}
