package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// RegistryClient queries a health-checked service registry over its
// HTTP API, asking only for instances that pass their checks.
type RegistryClient struct {
	client *resty.Client
	logger logger.Logger
}

// NewRegistryClient creates a registry client for the given base URL.
func NewRegistryClient(baseURL string, timeout time.Duration, log logger.Logger) *RegistryClient {
	if log == nil {
		log = logger.Nop{}
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)

	return &RegistryClient{
		client: client,
		logger: log,
	}
}

type registryEntry struct {
	Node struct {
		Address string `json:"Address"`
	} `json:"Node"`
	Service struct {
		Address string `json:"Address"`
		Port    int    `json:"Port"`
	} `json:"Service"`
}

// Lookup returns the passing instances of a service. The registry
// already filters on health, so every returned record is healthy.
func (c *RegistryClient) Lookup(ctx context.Context, serviceName string) ([]ServiceRecord, error) {
	var entries []registryEntry
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("passing", "true").
		SetResult(&entries).
		Get(fmt.Sprintf("/v1/health/service/%s", serviceName))

	if err != nil {
		return nil, fmt.Errorf("registry lookup failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("registry lookup returned status %d", resp.StatusCode())
	}

	records := make([]ServiceRecord, 0, len(entries))
	for _, e := range entries {
		address := e.Service.Address
		if address == "" {
			address = e.Node.Address
		}
		records = append(records, ServiceRecord{
			Name:          serviceName,
			Address:       address,
			Port:          e.Service.Port,
			Healthy:       true,
			DiscoveredVia: SourceRegistry,
		})
	}

	return records, nil
}
