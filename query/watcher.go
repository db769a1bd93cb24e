package query

import (
	"context"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hairizuanbinnoorazman/browser-relay/browser"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// CompletionEvent is the callback payload delivered to the caller's
// webhook when a watcher fires. Delivery is at-least-once; consumers
// must tolerate duplicates.
type CompletionEvent struct {
	TabID     string `json:"tab_id"`
	Query     string `json:"query"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
}

// Watcher polls a page's completion predicate over the debugger
// connection on a fixed interval, firing its outcome logically once:
// "ready" when the predicate satisfies, "timeout" when the failsafe
// deadline lapses unsatisfied. The browser-side generation runs
// entirely inside the remote process; no caller blocks on it.
type Watcher struct {
	store        Store
	driver       browser.Driver
	webhook      *resty.Client
	pollInterval time.Duration
	logger       logger.Logger
}

// NewWatcher creates a watcher runner shared by all pending queries.
func NewWatcher(store Store, driver browser.Driver, pollInterval time.Duration, webhookRetries int, log logger.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if log == nil {
		log = logger.Nop{}
	}

	webhook := resty.New()
	webhook.SetTimeout(10 * time.Second)
	if webhookRetries > 0 {
		webhook.SetRetryCount(webhookRetries)
		webhook.SetRetryWaitTime(time.Second)
	}

	return &Watcher{
		store:        store,
		driver:       driver,
		webhook:      webhook,
		pollInterval: pollInterval,
		logger:       log,
	}
}

// Watch launches the polling goroutine for one pending query. The
// predicate is the site capability's completion signal expression.
func (w *Watcher) Watch(pq *PendingQuery, targetID, predicate string) {
	go w.watch(pq, targetID, predicate)
}

func (w *Watcher) watch(pq *PendingQuery, targetID, predicate string) {
	ctx := context.Background()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(time.Until(pq.DeadlineAt))
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			var done bool
			if err := w.driver.Evaluate(ctx, targetID, predicate, &done); err != nil {
				if errors.Is(err, browser.ErrPageNotFound) {
					// The page is gone; let the failsafe conclude the
					// query so it still reaches a terminal state.
					w.logger.Warn(ctx, "watched page vanished", map[string]interface{}{
						"claim_id":  pq.ClaimID,
						"target_id": targetID,
					})
					w.fire(ctx, pq, StatusTimeout)
					return
				}
				w.logger.Debug(ctx, "completion poll failed", map[string]interface{}{
					"error":    err.Error(),
					"claim_id": pq.ClaimID,
				})
				continue
			}
			if done {
				w.fire(ctx, pq, StatusReady)
				return
			}
		case <-deadline.C:
			w.fire(ctx, pq, StatusTimeout)
			return
		}
	}
}

// fire records the outcome once and delivers the callback. A lost
// outcome race (another firing won) skips delivery; webhook errors are
// logged, not retried beyond the client's bounded retry count.
func (w *Watcher) fire(ctx context.Context, pq *PendingQuery, outcome Status) {
	if err := w.store.Fire(ctx, pq.ID, outcome); err != nil {
		if errors.Is(err, ErrAlreadyFired) {
			return
		}
		w.logger.Error(ctx, "failed to record watcher outcome", map[string]interface{}{
			"error":    err.Error(),
			"claim_id": pq.ClaimID,
		})
		return
	}

	w.logger.Info(ctx, "completion watcher fired", map[string]interface{}{
		"claim_id": pq.ClaimID,
		"status":   string(outcome),
	})

	if pq.WebhookURL == "" {
		return
	}

	event := CompletionEvent{
		TabID:     pq.ClaimID,
		Query:     pq.Query,
		Timestamp: time.Now().UnixMilli(),
		Status:    string(outcome),
	}

	resp, err := w.webhook.R().
		SetContext(ctx).
		SetBody(event).
		Post(pq.WebhookURL)

	if err != nil {
		w.logger.Error(ctx, "webhook delivery failed", map[string]interface{}{
			"error":    err.Error(),
			"claim_id": pq.ClaimID,
			"webhook":  pq.WebhookURL,
		})
		return
	}
	if resp.IsError() {
		w.logger.Error(ctx, "webhook rejected", map[string]interface{}{
			"status":   resp.StatusCode(),
			"claim_id": pq.ClaimID,
			"webhook":  pq.WebhookURL,
		})
	}
}
