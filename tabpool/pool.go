package tabpool

import (
	"context"
	"errors"

	"github.com/hairizuanbinnoorazman/browser-relay/browser"
	"github.com/hairizuanbinnoorazman/browser-relay/internal/uuidutil"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/hairizuanbinnoorazman/browser-relay/site"
)

// Pool owns the bounded set of browser tabs per service type. Tab rows
// live in shared storage so every relay replica works against the same
// pool; the pages themselves live in the remote browser.
type Pool struct {
	store   Store
	driver  browser.Driver
	caps    func(serviceType string) (site.Capability, error)
	maxTabs int
	logger  logger.Logger
}

// NewPool creates a tab pool with the given per-service capacity.
func NewPool(store Store, driver browser.Driver, maxTabs int, log logger.Logger) *Pool {
	if log == nil {
		log = logger.Nop{}
	}
	return &Pool{
		store:   store,
		driver:  driver,
		caps:    site.New,
		maxTabs: maxTabs,
		logger:  log,
	}
}

// WithCapabilities overrides the site capability lookup. Used in tests.
func (p *Pool) WithCapabilities(caps func(string) (site.Capability, error)) *Pool {
	p.caps = caps
	return p
}

// MaxTabs returns the per-service capacity.
func (p *Pool) MaxTabs() int {
	return p.maxTabs
}

// GetTab returns a free tab for the service type, opening a new one if
// the pool is below capacity. When sessionID is set the tab carrying
// that marker is looked up first: if busy the caller gets ErrTabBusy
// and decides when to retry; there is no internal waiting.
func (p *Pool) GetTab(ctx context.Context, serviceType, sessionID string) (*Tab, error) {
	if sessionID != "" {
		tab, err := p.store.GetBySession(ctx, serviceType, sessionID)
		if err == nil {
			if !tab.IsFree() {
				return nil, ErrTabBusy
			}
			return tab, nil
		}
		if !errors.Is(err, ErrTabNotFound) {
			return nil, err
		}
		// No tab carries the marker yet; fall through and open one.
	}

	tab, err := p.store.FindFree(ctx, serviceType)
	if err == nil {
		return tab, nil
	}
	if !errors.Is(err, ErrTabNotFound) {
		return nil, err
	}

	// Cheap pre-check so a clearly full pool does not open a page it
	// will immediately have to close. The bounded insert in openTab is
	// what actually holds the capacity invariant under races.
	count, err := p.store.Count(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	if count >= p.maxTabs {
		p.logger.Warn(ctx, "tab pool at capacity", map[string]interface{}{
			"service_type": serviceType,
			"count":        count,
			"max_tabs":     p.maxTabs,
		})
		return nil, ErrCapacityExceeded
	}

	return p.openTab(ctx, serviceType, sessionID)
}

func (p *Pool) openTab(ctx context.Context, serviceType, sessionID string) (*Tab, error) {
	capability, err := p.caps(serviceType)
	if err != nil {
		return nil, err
	}

	targetID, err := p.driver.OpenPage(ctx, capability.EntryURL())
	if err != nil {
		return nil, err
	}

	tab := &Tab{
		ServiceType: serviceType,
		TargetID:    targetID,
		State:       StateFree,
		SessionID:   sessionID,
	}
	if err := p.store.CreateBounded(ctx, tab, p.maxTabs); err != nil {
		// Roll back the page so the browser does not leak a tab the
		// pool cannot see. Racing callers that lose the bounded insert
		// land here with ErrCapacityExceeded.
		if closeErr := p.driver.ClosePage(ctx, targetID); closeErr != nil {
			p.logger.Warn(ctx, "failed to close orphaned page", map[string]interface{}{
				"error":     closeErr.Error(),
				"target_id": targetID,
			})
		}
		return nil, err
	}

	return tab, nil
}

// MarkBusy stamps the tab with a freshly generated claim identifier and
// ownership metadata, returning the identifier for later lookup.
func (p *Pool) MarkBusy(ctx context.Context, tab *Tab, jobID string) (string, error) {
	claimID := uuidutil.NewString()
	if err := p.store.Claim(ctx, tab.ID, claimID, jobID); err != nil {
		return "", err
	}
	tab.State = StateBusy
	tab.ClaimID = claimID
	tab.OwnerJobID = jobID
	return claimID, nil
}

// MarkFree clears claim and ownership metadata.
func (p *Pool) MarkFree(ctx context.Context, tab *Tab) error {
	if err := p.store.Release(ctx, tab.ID); err != nil {
		return err
	}
	tab.State = StateFree
	tab.ClaimID = ""
	tab.OwnerJobID = ""
	return nil
}

// RecycleTab frees the tab and performs a soft in-page reset by clicking
// the site's new-conversation affordance, preserving warm session state.
// Falls back to re-navigating the entry URL when the affordance is not
// clickable.
func (p *Pool) RecycleTab(ctx context.Context, tab *Tab) error {
	if err := p.MarkFree(ctx, tab); err != nil {
		return err
	}

	capability, err := p.caps(tab.ServiceType)
	if err != nil {
		return err
	}

	if sel := capability.LocateNewThread(); sel != "" {
		if err := p.driver.Click(ctx, tab.TargetID, sel); err == nil {
			return nil
		}
		p.logger.Debug(ctx, "soft reset failed, reloading entry page", map[string]interface{}{
			"tab_id": tab.ID.String(),
		})
	}

	if err := p.driver.Navigate(ctx, tab.TargetID, capability.EntryURL()); err != nil {
		p.logger.Warn(ctx, "failed to reset tab", map[string]interface{}{
			"error":  err.Error(),
			"tab_id": tab.ID.String(),
		})
		return err
	}

	return nil
}

// FindTabByID looks up a tab by the claim identifier handed out by
// MarkBusy. Stale identifiers resolve to ErrTabNotFound.
func (p *Pool) FindTabByID(ctx context.Context, claimID string) (*Tab, error) {
	return p.store.GetByClaimID(ctx, claimID)
}

// CountTabs returns the tab count for a service type, or all tabs when
// serviceType is empty.
func (p *Pool) CountTabs(ctx context.Context, serviceType string) (int, error) {
	return p.store.Count(ctx, serviceType)
}

// PruneExcessTabs closes the oldest free tabs of every service type
// until each is back at or under capacity. Busy tabs are never pruned.
func (p *Pool) PruneExcessTabs(ctx context.Context) (int, error) {
	types, err := p.store.ServiceTypes(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, serviceType := range types {
		count, err := p.store.Count(ctx, serviceType)
		if err != nil {
			return pruned, err
		}
		excess := count - p.maxTabs
		if excess <= 0 {
			continue
		}

		tabs, err := p.store.ListFreeOldest(ctx, serviceType, excess)
		if err != nil {
			return pruned, err
		}

		for _, tab := range tabs {
			if err := p.driver.ClosePage(ctx, tab.TargetID); err != nil && !errors.Is(err, browser.ErrPageNotFound) {
				p.logger.Warn(ctx, "failed to close page during prune", map[string]interface{}{
					"error":     err.Error(),
					"target_id": tab.TargetID,
				})
				continue
			}
			if err := p.store.Delete(ctx, tab.ID); err != nil && !errors.Is(err, ErrTabNotFound) {
				return pruned, err
			}
			pruned++
		}
	}

	if pruned > 0 {
		p.logger.Info(ctx, "pruned excess tabs", map[string]interface{}{
			"pruned": pruned,
		})
	}

	return pruned, nil
}
