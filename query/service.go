package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hairizuanbinnoorazman/browser-relay/browser"
	"github.com/hairizuanbinnoorazman/browser-relay/inputlock"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/hairizuanbinnoorazman/browser-relay/site"
	"github.com/hairizuanbinnoorazman/browser-relay/tabpool"
)

// Options tune the two-phase protocol.
type Options struct {
	// LockTimeout bounds how long a submission waits on the input mutex.
	LockTimeout time.Duration

	// WatchDeadline is the failsafe bound on generation time; the
	// watcher fires "timeout" when it lapses unsatisfied.
	WatchDeadline time.Duration

	// TypingMinDelay/TypingMaxDelay bound the randomized inter-keystroke
	// pause.
	TypingMinDelay time.Duration
	TypingMaxDelay time.Duration
}

func (o *Options) withDefaults() {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 30 * time.Second
	}
	if o.WatchDeadline <= 0 {
		o.WatchDeadline = 5 * time.Minute
	}
	if o.TypingMinDelay <= 0 {
		o.TypingMinDelay = 50 * time.Millisecond
	}
	if o.TypingMaxDelay < o.TypingMinDelay {
		o.TypingMaxDelay = o.TypingMinDelay + 100*time.Millisecond
	}
}

// Service implements the two-phase query protocol. Phase one (Submit)
// is interaction-bound and fast; phase two (Collect) is triggered by
// the watcher's callback as an independent unit of work. No caller ever
// blocks for the generation in between.
type Service struct {
	pool    *tabpool.Pool
	mutex   *inputlock.Mutex
	driver  browser.Driver
	store   Store
	watcher *Watcher
	caps    func(serviceType string) (site.Capability, error)
	opts    Options
	logger  logger.Logger
}

// NewService wires the protocol over the pool, the input mutex, the
// browser driver, and the pending-query store.
func NewService(pool *tabpool.Pool, mutex *inputlock.Mutex, driver browser.Driver, store Store, watcher *Watcher, opts Options, log logger.Logger) *Service {
	opts.withDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Service{
		pool:    pool,
		mutex:   mutex,
		driver:  driver,
		store:   store,
		watcher: watcher,
		caps:    site.New,
		opts:    opts,
		logger:  log,
	}
}

// WithCapabilities overrides the site capability lookup. Used in tests.
func (s *Service) WithCapabilities(caps func(string) (site.Capability, error)) *Service {
	s.caps = caps
	return s
}

// SubmitRequest is the phase-one input.
type SubmitRequest struct {
	ServiceType  string `json:"service_type"`
	Query        string `json:"query"`
	DeepResearch bool   `json:"deep_research"`
	SessionID    string `json:"session_id,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
}

// SubmitResult is the phase-one output, returned as soon as the watcher
// is installed.
type SubmitResult struct {
	TabID  string `json:"tab_id"`
	Status string `json:"status"`
}

// Submit acquires a tab, types and sends the query under the input
// mutex, installs the completion watcher, and returns immediately. The
// mutex is held only for the input sequence, never during generation.
// Capacity, busy, and lock-timeout failures abort before any resource
// leaks and are typed for the caller to retry.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Query == "" {
		return nil, ErrInvalidQuery
	}

	capability, err := s.caps(req.ServiceType)
	if err != nil {
		return nil, err
	}

	tab, err := s.pool.GetTab(ctx, req.ServiceType, req.SessionID)
	if err != nil {
		return nil, err
	}

	claimID, err := s.pool.MarkBusy(ctx, tab, "")
	if err != nil {
		return nil, err
	}

	err = s.mutex.WithHold(ctx, s.opts.LockTimeout, func(ctx context.Context) error {
		return s.performInput(ctx, tab.TargetID, capability, req)
	})
	if err != nil {
		// The tab was never submitted to; hand it back so the failure
		// stays retryable.
		if freeErr := s.pool.MarkFree(ctx, tab); freeErr != nil {
			s.logger.Error(ctx, "failed to free tab after aborted submit", map[string]interface{}{
				"error":  freeErr.Error(),
				"tab_id": tab.ID.String(),
			})
		}
		return nil, err
	}

	now := time.Now()
	pq := &PendingQuery{
		ClaimID:      claimID,
		ServiceType:  req.ServiceType,
		Query:        req.Query,
		WebhookURL:   req.WebhookURL,
		DeepResearch: req.DeepResearch,
		Status:       StatusSubmitted,
		SubmittedAt:  now,
		DeadlineAt:   now.Add(s.opts.WatchDeadline),
	}
	if err := s.store.Create(ctx, pq); err != nil {
		if freeErr := s.pool.MarkFree(ctx, tab); freeErr != nil {
			s.logger.Error(ctx, "failed to free tab after store failure", map[string]interface{}{
				"error":  freeErr.Error(),
				"tab_id": tab.ID.String(),
			})
		}
		return nil, err
	}

	s.watcher.Watch(pq, tab.TargetID, capability.LocateCompletionSignal())

	s.logger.Info(ctx, "query submitted", map[string]interface{}{
		"claim_id":      claimID,
		"service_type":  req.ServiceType,
		"deep_research": req.DeepResearch,
	})

	return &SubmitResult{TabID: claimID, Status: "submitted"}, nil
}

// performInput runs the simulated human input sequence. Caller holds
// the input mutex.
func (s *Service) performInput(ctx context.Context, targetID string, capability site.Capability, req SubmitRequest) error {
	input := capability.LocateInput()

	if err := s.driver.Focus(ctx, targetID, input); err != nil {
		return fmt.Errorf("failed to focus input: %w", err)
	}

	send := func(keys string) error {
		return s.driver.SendKeys(ctx, targetID, input, keys)
	}
	if err := inputlock.HumanType(ctx, send, req.Query, s.opts.TypingMinDelay, s.opts.TypingMaxDelay); err != nil {
		return fmt.Errorf("failed to type query: %w", err)
	}

	if req.DeepResearch {
		if toggle := capability.LocateModeToggle(); toggle != "" {
			if err := s.driver.Click(ctx, targetID, toggle); err != nil {
				return fmt.Errorf("failed to toggle research mode: %w", err)
			}
		}
	}

	if err := s.driver.SendKeys(ctx, targetID, input, "\n"); err != nil {
		return fmt.Errorf("failed to send submit keystroke: %w", err)
	}

	return nil
}

// CollectRequest is the phase-two input, usually echoing the webhook
// event fields.
type CollectRequest struct {
	TabID     string `json:"tab_id"`
	Query     string `json:"query"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Recycle   bool   `json:"recycle"`
}

// CollectResult is the structured phase-two outcome. Status is always
// terminal: "success", "timeout", or "error" — never an unhandled
// failure, so an unattended asynchronous job always concludes.
type CollectResult struct {
	Status           string   `json:"status"`
	Query            string   `json:"query"`
	Answer           string   `json:"answer,omitempty"`
	Sources          []string `json:"sources"`
	RelatedQuestions []string `json:"related_questions"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Message          string   `json:"message,omitempty"`
}

// extracted mirrors the JSON shape produced by a capability's
// extraction expression.
type extracted struct {
	Answer           string   `json:"answer"`
	Sources          []string `json:"sources"`
	RelatedQuestions []string `json:"related_questions"`
}

// Collect retrieves the structured result for a fired query, then
// recycles or frees its tab. Callback delivery is at-least-once, so
// every failure path here is a structured outcome: a vanished or
// already-collected tab reports "error" rather than breaking the caller.
func (s *Service) Collect(ctx context.Context, req CollectRequest) *CollectResult {
	result := &CollectResult{
		Query:            req.Query,
		Sources:          []string{},
		RelatedQuestions: []string{},
	}

	pq, err := s.store.GetByClaimID(ctx, req.TabID)
	if err != nil {
		result.Status = "error"
		result.Message = fmt.Sprintf("unknown query for tab %s: %v", req.TabID, err)
		return result
	}
	result.ProcessingTimeMs = pq.ProcessingTime().Milliseconds()

	tab, err := s.pool.FindTabByID(ctx, req.TabID)
	if err != nil {
		if collectErr := s.store.Collect(ctx, pq.ID); collectErr != nil && !errors.Is(collectErr, ErrAlreadyCollected) {
			s.logger.Warn(ctx, "failed to conclude query for missing tab", map[string]interface{}{
				"error":    collectErr.Error(),
				"claim_id": req.TabID,
			})
		}
		result.Status = "error"
		result.Message = fmt.Sprintf("tab not found for claim %s; it may have been recycled", req.TabID)
		return result
	}

	capability, err := s.caps(tab.ServiceType)
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
		return result
	}

	var ex extracted
	if err := s.driver.Evaluate(ctx, tab.TargetID, capability.ExtractResult(), &ex); err != nil {
		if errors.Is(err, browser.ErrPageNotFound) {
			result.Status = "error"
			result.Message = fmt.Sprintf("tab not found: page for claim %s is gone", req.TabID)
		} else {
			result.Status = "error"
			result.Message = fmt.Sprintf("failed to extract result: %v", err)
		}
		s.releaseTab(ctx, tab, false)
		if collectErr := s.store.Collect(ctx, pq.ID); collectErr != nil && !errors.Is(collectErr, ErrAlreadyCollected) {
			s.logger.Warn(ctx, "failed to conclude query after extraction failure", map[string]interface{}{
				"error":    collectErr.Error(),
				"claim_id": req.TabID,
			})
		}
		return result
	}

	if err := s.store.Collect(ctx, pq.ID); err != nil {
		if errors.Is(err, ErrAlreadyCollected) {
			// The earlier collection concluded the query but never freed
			// the tab, or the claim would no longer resolve. Free it here
			// so the tab cannot stay wedged busy.
			s.releaseTab(ctx, tab, false)
			result.Status = "error"
			result.Message = fmt.Sprintf("result for claim %s was already collected", req.TabID)
			return result
		}
		s.logger.Warn(ctx, "failed to mark query collected", map[string]interface{}{
			"error":    err.Error(),
			"claim_id": req.TabID,
		})
	}

	s.releaseTab(ctx, tab, req.Recycle)

	if req.Status == string(StatusTimeout) {
		result.Status = "timeout"
	} else {
		result.Status = "success"
	}
	result.Answer = ex.Answer
	if ex.Sources != nil {
		result.Sources = ex.Sources
	}
	if ex.RelatedQuestions != nil {
		result.RelatedQuestions = ex.RelatedQuestions
	}

	s.logger.Info(ctx, "query collected", map[string]interface{}{
		"claim_id": req.TabID,
		"status":   result.Status,
	})

	return result
}

func (s *Service) releaseTab(ctx context.Context, tab *tabpool.Tab, recycle bool) {
	var err error
	if recycle {
		err = s.pool.RecycleTab(ctx, tab)
	} else {
		err = s.pool.MarkFree(ctx, tab)
	}
	if err != nil {
		s.logger.Warn(ctx, "failed to release tab after collection", map[string]interface{}{
			"error":  err.Error(),
			"tab_id": tab.ID.String(),
		})
	}
}
