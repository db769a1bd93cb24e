package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// Resolver maps a logical service name to a live network address using
// a tiered strategy: health-filtered registry lookup, then orchestrator
// allocation query, then a static default. Tier failures are swallowed
// and logged; only exhaustion of every tier is a hard outcome.
type Resolver struct {
	registry    *RegistryClient
	allocations AllocationResolver
	portLabel   string
	defaultAddr string
	tierTimeout time.Duration
	logger      logger.Logger
}

// NewResolver creates a resolver. Any tier may be nil/empty and is then
// skipped.
func NewResolver(registry *RegistryClient, allocations AllocationResolver, portLabel, defaultAddr string, tierTimeout time.Duration, log logger.Logger) *Resolver {
	if tierTimeout <= 0 {
		tierTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Resolver{
		registry:    registry,
		allocations: allocations,
		portLabel:   portLabel,
		defaultAddr: defaultAddr,
		tierTimeout: tierTimeout,
		logger:      log,
	}
}

// Discover resolves a service name, stopping at the first tier that
// yields an address. The default tier always succeeds when configured;
// the caller decides whether the default is acceptable.
func (r *Resolver) Discover(ctx context.Context, serviceName string) (*ServiceRecord, error) {
	if r.registry != nil {
		tierCtx, cancel := context.WithTimeout(ctx, r.tierTimeout)
		records, err := r.registry.Lookup(tierCtx, serviceName)
		cancel()

		switch {
		case err != nil:
			r.logger.Warn(ctx, "registry tier failed, falling through", map[string]interface{}{
				"error":   err.Error(),
				"service": serviceName,
			})
		case len(records) == 0:
			r.logger.Debug(ctx, "registry tier empty, falling through", map[string]interface{}{
				"service": serviceName,
			})
		default:
			rec := records[0]
			rec.Address = r.ResolveAddress(rec.Address)
			return &rec, nil
		}
	}

	if r.allocations != nil {
		tierCtx, cancel := context.WithTimeout(ctx, r.tierTimeout)
		addr, err := r.allocations.AllocationAddress(tierCtx, serviceName, r.portLabel)
		cancel()

		if err != nil {
			r.logger.Warn(ctx, "orchestrator tier failed, falling through", map[string]interface{}{
				"error":   err.Error(),
				"service": serviceName,
			})
		} else if addr != "" {
			host, port := splitAddr(addr)
			return &ServiceRecord{
				Name:          serviceName,
				Address:       r.ResolveAddress(host),
				Port:          port,
				Healthy:       true,
				DiscoveredVia: SourceOrchestrator,
			}, nil
		}
	}

	if r.defaultAddr != "" {
		r.logger.Info(ctx, "using static default address", map[string]interface{}{
			"service": serviceName,
			"address": r.defaultAddr,
		})
		host, port := splitAddr(r.defaultAddr)
		return &ServiceRecord{
			Name:          serviceName,
			Address:       host,
			Port:          port,
			Healthy:       false,
			DiscoveredVia: SourceDefault,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrDiscoveryExhausted, serviceName)
}

// ResolveAddress substitutes a hostname with its IP literal, working
// around virtual-host mismatches for direct debugger connections.
// Loopback names and addresses that are already literals pass through;
// resolution failures are swallowed and the input returned unchanged.
func (r *Resolver) ResolveAddress(host string) string {
	if host == "" || host == "localhost" {
		return host
	}
	if ip := net.ParseIP(host); ip != nil {
		return host
	}

	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		r.logger.Debug(context.Background(), "hostname resolution failed, keeping name", map[string]interface{}{
			"host": host,
		})
		return host
	}

	return addrs[0]
}

// splitAddr separates "host:port" into parts; a missing or invalid port
// comes back as zero.
func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}
