package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hairizuanbinnoorazman/browser-relay/discovery"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// VariantMetaKey is the job spec metadata field the variant patches.
const VariantMetaKey = "variant"

// Client talks to the cluster orchestrator hosting the browser job.
type Client struct {
	client    *resty.Client
	registry  *discovery.RegistryClient
	portLabel string
	logger    logger.Logger
}

// NewClient creates an orchestrator client. registry may be nil; it is
// only used as the preferred source in GetServiceAddress.
func NewClient(baseURL string, timeout time.Duration, registry *discovery.RegistryClient, portLabel string, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop{}
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)

	return &Client{
		client:    client,
		registry:  registry,
		portLabel: portLabel,
		logger:    log,
	}
}

type jobResponse struct {
	ID     string            `json:"ID"`
	Status string            `json:"Status"`
	Meta   map[string]string `json:"Meta"`
}

type allocationSummary struct {
	ID               string `json:"ID"`
	ClientStatus     string `json:"ClientStatus"`
	DeploymentStatus *struct {
		Healthy *bool `json:"Healthy"`
	} `json:"DeploymentStatus"`
}

type allocationDetail struct {
	AllocatedResources struct {
		Shared struct {
			Ports []struct {
				Label  string `json:"Label"`
				Value  int    `json:"Value"`
				HostIP string `json:"HostIP"`
			} `json:"Ports"`
		} `json:"Shared"`
	} `json:"AllocatedResources"`
}

func (c *Client) getJob(ctx context.Context, agentID string) (*jobResponse, error) {
	var job jobResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&job).
		Get(fmt.Sprintf("/v1/job/%s", agentID))

	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, agentID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("job fetch returned status %d", resp.StatusCode())
	}

	return &job, nil
}

func (c *Client) getAllocations(ctx context.Context, agentID string) ([]allocationSummary, error) {
	var allocs []allocationSummary
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&allocs).
		Get(fmt.Sprintf("/v1/job/%s/allocations", agentID))

	if err != nil {
		return nil, fmt.Errorf("failed to fetch allocations: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, agentID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("allocation fetch returned status %d", resp.StatusCode())
	}

	return allocs, nil
}

// GetJobStatus queries job state and aggregates allocation health: the
// job is healthy iff any running allocation reports healthy, or, absent
// any health signal, iff any allocation is running at all.
func (c *Client) GetJobStatus(ctx context.Context, agentID string) (*JobHandle, error) {
	job, err := c.getJob(ctx, agentID)
	if err != nil {
		return nil, err
	}

	allocs, err := c.getAllocations(ctx, agentID)
	if err != nil {
		return nil, err
	}

	handle := &JobHandle{
		AgentID: agentID,
		Status:  mapStatus(job.Status),
	}

	sawHealthSignal := false
	for _, alloc := range allocs {
		if alloc.ClientStatus != "running" {
			continue
		}
		handle.AllocationCount++
		if alloc.DeploymentStatus != nil && alloc.DeploymentStatus.Healthy != nil {
			sawHealthSignal = true
			if *alloc.DeploymentStatus.Healthy {
				handle.Healthy = true
			}
		}
	}
	if !sawHealthSignal {
		handle.Healthy = handle.AllocationCount > 0
	}

	return handle, nil
}

func mapStatus(s string) Status {
	switch s {
	case "queued":
		return StatusQueued
	case "pending":
		return StatusPending
	case "running":
		return StatusRunning
	case "dead":
		return StatusDead
	default:
		return StatusUnknown
	}
}

// StartJob is idempotent: a job already running healthy under the
// requested variant returns success without side effects. Otherwise the
// current job specification is fetched, the variant field patched after
// strict validation, and the whole specification resubmitted.
func (c *Client) StartJob(ctx context.Context, agentID, variant string) (*OpResult, error) {
	if variant != "" && !ValidVariant(variant) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVariant, variant)
	}

	handle, err := c.GetJobStatus(ctx, agentID)
	if err == nil && handle.Healthy {
		current, verr := c.currentVariant(ctx, agentID)
		if verr == nil && (variant == "" || current == variant) {
			return &OpResult{Success: true, Message: "job already running"}, nil
		}
	}

	spec, err := c.fetchSpec(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if variant != "" {
		meta, ok := spec["Meta"].(map[string]interface{})
		if !ok {
			meta = make(map[string]interface{})
		}
		meta[VariantMetaKey] = variant
		spec["Meta"] = meta
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"Job": spec}).
		Post("/v1/jobs")

	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("job submit returned status %d", resp.StatusCode())
	}

	c.logger.Info(ctx, "job submitted", map[string]interface{}{
		"agent_id": agentID,
		"variant":  variant,
	})

	return &OpResult{Success: true, Message: "job submitted"}, nil
}

func (c *Client) fetchSpec(ctx context.Context, agentID string) (map[string]interface{}, error) {
	var spec map[string]interface{}
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&spec).
		Get(fmt.Sprintf("/v1/job/%s", agentID))

	if err != nil {
		return nil, fmt.Errorf("failed to fetch job spec: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, agentID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("job spec fetch returned status %d", resp.StatusCode())
	}

	return spec, nil
}

func (c *Client) currentVariant(ctx context.Context, agentID string) (string, error) {
	job, err := c.getJob(ctx, agentID)
	if err != nil {
		return "", err
	}
	return job.Meta[VariantMetaKey], nil
}

// StopJob fully deregisters the job rather than scaling to zero. The
// registered spec is lost on every stop; a subsequent start resubmits it.
func (c *Client) StopJob(ctx context.Context, agentID string) (*OpResult, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("purge", "true").
		Delete(fmt.Sprintf("/v1/job/%s", agentID))

	if err != nil {
		return nil, fmt.Errorf("failed to stop job: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, agentID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("job stop returned status %d", resp.StatusCode())
	}

	c.logger.Info(ctx, "job deregistered", map[string]interface{}{
		"agent_id": agentID,
	})

	return &OpResult{Success: true, Message: "job deregistered"}, nil
}

// WaitForJob polls job status until healthy (true), dead (false), or
// timeout (false). Transient status errors are logged and retried
// within the bound; there is no unbounded retry.
func (c *Client) WaitForJob(ctx context.Context, agentID string, timeout, pollInterval time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		handle, err := c.GetJobStatus(ctx, agentID)
		if err != nil {
			c.logger.Warn(ctx, "job status poll failed", map[string]interface{}{
				"error":    err.Error(),
				"agent_id": agentID,
			})
		} else {
			if handle.Healthy {
				return true, nil
			}
			if handle.Status == StatusDead {
				return false, nil
			}
		}

		if time.Now().Add(pollInterval).After(deadline) {
			return false, nil
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// AllocationAddress resolves the named port of the first running
// allocation of a job. Implements discovery.AllocationResolver.
func (c *Client) AllocationAddress(ctx context.Context, jobID, portLabel string) (string, error) {
	allocs, err := c.getAllocations(ctx, jobID)
	if err != nil {
		return "", err
	}

	for _, alloc := range allocs {
		if alloc.ClientStatus != "running" {
			continue
		}

		var detail allocationDetail
		resp, err := c.client.R().
			SetContext(ctx).
			SetResult(&detail).
			Get(fmt.Sprintf("/v1/allocation/%s", alloc.ID))

		if err != nil {
			return "", fmt.Errorf("failed to fetch allocation %s: %w", alloc.ID, err)
		}
		if resp.IsError() {
			return "", fmt.Errorf("allocation fetch returned status %d", resp.StatusCode())
		}

		for _, port := range detail.AllocatedResources.Shared.Ports {
			if port.Label == portLabel {
				return fmt.Sprintf("%s:%d", port.HostIP, port.Value), nil
			}
		}
	}

	return "", fmt.Errorf("%w: job %s port %s", ErrNoAddress, jobID, portLabel)
}

// GetServiceAddress resolves the running instance's address, preferring
// the registry and falling back to the allocation network details.
func (c *Client) GetServiceAddress(ctx context.Context, agentID string) (string, error) {
	if c.registry != nil {
		records, err := c.registry.Lookup(ctx, agentID)
		if err == nil && len(records) > 0 {
			return fmt.Sprintf("%s:%d", records[0].Address, records[0].Port), nil
		}
		if err != nil {
			c.logger.Warn(ctx, "registry lookup failed, falling back to allocation", map[string]interface{}{
				"error":    err.Error(),
				"agent_id": agentID,
			})
		}
	}

	return c.AllocationAddress(ctx, agentID, c.portLabel)
}

// EnsureRunning is the composite idempotent entry point: check health,
// start if needed, wait for healthy, resolve the address. WasStarted
// reports whether a cold start occurred.
func (c *Client) EnsureRunning(ctx context.Context, agentID string, startTimeout time.Duration, variant string) (*EnsureResult, error) {
	if variant != "" && !ValidVariant(variant) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVariant, variant)
	}

	handle, err := c.GetJobStatus(ctx, agentID)
	if err == nil && handle.Healthy {
		matches := variant == ""
		if !matches {
			current, verr := c.currentVariant(ctx, agentID)
			matches = verr == nil && current == variant
		}
		if matches {
			addr, err := c.GetServiceAddress(ctx, agentID)
			if err != nil {
				return nil, err
			}
			return &EnsureResult{Address: addr, WasStarted: false}, nil
		}
	}

	if _, err := c.StartJob(ctx, agentID, variant); err != nil {
		return nil, err
	}

	healthy, err := c.WaitForJob(ctx, agentID, startTimeout, time.Second)
	if err != nil {
		return nil, err
	}
	if !healthy {
		return nil, fmt.Errorf("%w: %s", ErrJobUnhealthy, agentID)
	}

	addr, err := c.GetServiceAddress(ctx, agentID)
	if err != nil {
		return nil, err
	}

	return &EnsureResult{Address: addr, WasStarted: true}, nil
}
