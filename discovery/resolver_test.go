package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAllocations struct {
	addr string
	err  error
	// calls counts lookups so tests can assert a tier was skipped.
	calls int
}

func (f *fakeAllocations) AllocationAddress(ctx context.Context, jobID, portLabel string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.addr, nil
}

func registryServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("passing"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const registryBody = `[
	{"Node": {"Address": "10.0.0.5"}, "Service": {"Address": "", "Port": 9222}},
	{"Node": {"Address": "10.0.0.6"}, "Service": {"Address": "10.0.0.7", "Port": 9223}}
]`

func TestRegistryClient_Lookup(t *testing.T) {
	ctx := context.Background()

	t.Run("parses passing instances", func(t *testing.T) {
		srv := registryServer(t, registryBody, http.StatusOK)
		client := NewRegistryClient(srv.URL, time.Second, logger.NewTestLogger())

		records, err := client.Lookup(ctx, "agent-browser")
		require.NoError(t, err)
		require.Len(t, records, 2)

		// Node address backfills an empty service address.
		assert.Equal(t, "10.0.0.5", records[0].Address)
		assert.Equal(t, 9222, records[0].Port)
		assert.Equal(t, "10.0.0.7", records[1].Address)
		assert.True(t, records[0].Healthy)
		assert.Equal(t, SourceRegistry, records[0].DiscoveredVia)
	})

	t.Run("error status surfaces as error", func(t *testing.T) {
		srv := registryServer(t, `{"error": "boom"}`, http.StatusInternalServerError)
		client := NewRegistryClient(srv.URL, time.Second, logger.NewTestLogger())

		_, err := client.Lookup(ctx, "agent-browser")
		assert.Error(t, err)
	})

	t.Run("no passing instances yields empty set", func(t *testing.T) {
		srv := registryServer(t, `[]`, http.StatusOK)
		client := NewRegistryClient(srv.URL, time.Second, logger.NewTestLogger())

		records, err := client.Lookup(ctx, "agent-browser")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestResolver_Discover(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()

	t.Run("registry tier short-circuits the rest", func(t *testing.T) {
		srv := registryServer(t, registryBody, http.StatusOK)
		registry := NewRegistryClient(srv.URL, time.Second, log)
		allocations := &fakeAllocations{addr: "10.9.9.9:9222"}

		resolver := NewResolver(registry, allocations, "devtools", "fallback:9222", time.Second, log)
		record, err := resolver.Discover(ctx, "agent-browser")
		require.NoError(t, err)

		assert.Equal(t, "10.0.0.5", record.Address)
		assert.Equal(t, SourceRegistry, record.DiscoveredVia)
		assert.Zero(t, allocations.calls)
	})

	t.Run("registry failure falls through to orchestrator", func(t *testing.T) {
		srv := registryServer(t, `oops`, http.StatusInternalServerError)
		registry := NewRegistryClient(srv.URL, time.Second, log)
		allocations := &fakeAllocations{addr: "10.9.9.9:9222"}

		resolver := NewResolver(registry, allocations, "devtools", "fallback:9222", time.Second, log)
		record, err := resolver.Discover(ctx, "agent-browser")
		require.NoError(t, err)

		assert.Equal(t, "10.9.9.9", record.Address)
		assert.Equal(t, 9222, record.Port)
		assert.Equal(t, SourceOrchestrator, record.DiscoveredVia)
		assert.True(t, record.Healthy)
	})

	t.Run("empty registry falls through to orchestrator", func(t *testing.T) {
		srv := registryServer(t, `[]`, http.StatusOK)
		registry := NewRegistryClient(srv.URL, time.Second, log)
		allocations := &fakeAllocations{addr: "10.9.9.9:9222"}

		resolver := NewResolver(registry, allocations, "devtools", "", time.Second, log)
		record, err := resolver.Discover(ctx, "agent-browser")
		require.NoError(t, err)
		assert.Equal(t, SourceOrchestrator, record.DiscoveredVia)
	})

	t.Run("all tiers down lands on default, marked unverified", func(t *testing.T) {
		allocations := &fakeAllocations{err: errors.New("orchestrator down")}

		resolver := NewResolver(nil, allocations, "devtools", "fallback-host:9222", time.Second, log)
		record, err := resolver.Discover(ctx, "agent-browser")
		require.NoError(t, err)

		assert.Equal(t, "fallback-host", record.Address)
		assert.Equal(t, 9222, record.Port)
		assert.False(t, record.Healthy)
		assert.Equal(t, SourceDefault, record.DiscoveredVia)
	})

	t.Run("no tier configured is exhaustion", func(t *testing.T) {
		resolver := NewResolver(nil, nil, "devtools", "", time.Second, log)
		_, err := resolver.Discover(ctx, "agent-browser")
		assert.ErrorIs(t, err, ErrDiscoveryExhausted)
	})

	t.Run("hung registry respects the tier timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
			fmt.Fprint(w, `[]`)
		}))
		t.Cleanup(srv.Close)

		registry := NewRegistryClient(srv.URL, time.Second, log)
		allocations := &fakeAllocations{addr: "10.9.9.9:9222"}

		resolver := NewResolver(registry, allocations, "devtools", "", 50*time.Millisecond, log)
		start := time.Now()
		record, err := resolver.Discover(ctx, "agent-browser")
		require.NoError(t, err)

		assert.Equal(t, SourceOrchestrator, record.DiscoveredVia)
		assert.Less(t, time.Since(start), 400*time.Millisecond)
	})
}

func TestResolver_ResolveAddress(t *testing.T) {
	resolver := NewResolver(nil, nil, "", "", time.Second, logger.NewTestLogger())

	t.Run("localhost passes through", func(t *testing.T) {
		assert.Equal(t, "localhost", resolver.ResolveAddress("localhost"))
	})

	t.Run("IP literal passes through", func(t *testing.T) {
		assert.Equal(t, "10.0.0.1", resolver.ResolveAddress("10.0.0.1"))
	})

	t.Run("unresolvable name is kept", func(t *testing.T) {
		assert.Equal(t, "no-such-host.invalid", resolver.ResolveAddress("no-such-host.invalid"))
	})
}

func TestServiceRecord_HostPort(t *testing.T) {
	t.Run("joins address and discovered port", func(t *testing.T) {
		record := ServiceRecord{Address: "10.0.0.5", Port: 9222}
		assert.Equal(t, "10.0.0.5:9222", record.HostPort())
	})

	t.Run("portless record is the bare address", func(t *testing.T) {
		record := ServiceRecord{Address: "10.0.0.5"}
		assert.Equal(t, "10.0.0.5", record.HostPort())
	})

	// Every tier splits host and port apart; dialing the record must put
	// them back together or the endpoint lands on the wrong port.
	t.Run("default tier record dials the configured port", func(t *testing.T) {
		resolver := NewResolver(nil, nil, "devtools", "fallback-host:9222", time.Second, logger.NewTestLogger())
		record, err := resolver.Discover(context.Background(), "agent-browser")
		require.NoError(t, err)
		assert.Equal(t, "fallback-host:9222", record.HostPort())
	})
}

func TestSplitAddr(t *testing.T) {
	host, port := splitAddr("example.com:9222")
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 9222, port)

	host, port = splitAddr("bare-host")
	assert.Equal(t, "bare-host", host)
	assert.Zero(t, port)
}
