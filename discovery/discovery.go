package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
)

var (
	// ErrDiscoveryExhausted means every resolution tier failed and no
	// static default is configured. The caller decides fallback or abort.
	ErrDiscoveryExhausted = errors.New("all discovery tiers exhausted")

	// ErrNoHealthyInstances means the registry answered but every
	// instance of the service failed its health checks.
	ErrNoHealthyInstances = errors.New("no healthy instances in registry")
)

// Source records which tier produced an address.
type Source string

const (
	SourceRegistry     Source = "registry"
	SourceOrchestrator Source = "orchestrator"
	SourceDefault      Source = "default"
)

// ServiceRecord is the transient result of one resolution call. Records
// are recomputed per call and never cached.
type ServiceRecord struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	Port          int    `json:"port"`
	Healthy       bool   `json:"healthy"`
	DiscoveredVia Source `json:"discovered_via"`
}

// HostPort renders the record as a dialable "host:port" string. Address
// holds the host alone; the discovered port lives in Port. A record
// without a port comes back as the bare address.
func (r *ServiceRecord) HostPort() string {
	if r.Port == 0 {
		return r.Address
	}
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

// AllocationResolver is the orchestrator-backed fallback tier: resolve
// the named port of the first running allocation of a job. Implemented
// by the orchestrator client; kept as an interface so discovery carries
// no dependency on it.
type AllocationResolver interface {
	AllocationAddress(ctx context.Context, jobID, portLabel string) (string, error)
}
