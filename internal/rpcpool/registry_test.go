// internal/rpcpool/registry_test.go
package rpcpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfigs() []EndpointConfig {
	return []EndpointConfig{
		{ID: "e1", Provider: "helius", Network: NetworkMainnet, BaseURL: "https://rpc-1.example.com", AuthScheme: AuthQueryParam, Priority: 1},
		{ID: "e2", Provider: "quicknode", Network: NetworkMainnet, BaseURL: "https://rpc-2.example.com", AuthScheme: AuthQueryParam, Priority: 2},
		{ID: "e3", Provider: "public", Network: NetworkDevnet, BaseURL: "https://api.devnet.solana.com", AuthScheme: AuthQueryParam, Priority: 1},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testConfigs(), RegistryConfig{
		FailureThreshold: 5,
		BreakerCooldown:  120 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestSelectPrefersLowestPriority(t *testing.T) {
	r := newTestRegistry(t)

	ep, err := r.Select(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "e1", ep.ID())
}

func TestSelectTieBreaksOnLatency(t *testing.T) {
	r, err := NewRegistry([]EndpointConfig{
		{ID: "slow", Network: NetworkMainnet, BaseURL: "https://slow.example.com", Priority: 1},
		{ID: "fast", Network: NetworkMainnet, BaseURL: "https://fast.example.com", Priority: 1},
	}, RegistryConfig{}, zap.NewNop())
	require.NoError(t, err)

	r.RecordOutcome("slow", true, 400*time.Millisecond)
	r.RecordOutcome("fast", true, 40*time.Millisecond)

	ep, err := r.Select(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "fast", ep.ID())
}

func TestSelectIsolatesNetworks(t *testing.T) {
	r := newTestRegistry(t)

	ep, err := r.Select(NetworkDevnet)
	require.NoError(t, err)
	assert.Equal(t, "e3", ep.ID())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r := newTestRegistry(t)

	for i := 0; i < 5; i++ {
		r.RecordOutcome("e1", false, 50*time.Millisecond)
	}

	ep, err := r.Select(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "e2", ep.ID(), "open endpoint must not be selected")

	status := statusByID(t, r, "e1")
	assert.Equal(t, BreakerOpen, status.BreakerState)
	assert.Equal(t, 5, status.ConsecutiveFailures)
}

func TestBreakerSuccessBeforeThresholdResetsCounter(t *testing.T) {
	r := newTestRegistry(t)

	for i := 0; i < 4; i++ {
		r.RecordOutcome("e1", false, 50*time.Millisecond)
	}
	r.RecordOutcome("e1", true, 50*time.Millisecond)

	status := statusByID(t, r, "e1")
	assert.Equal(t, BreakerClosed, status.BreakerState)
	assert.Equal(t, 0, status.ConsecutiveFailures)
	assert.Equal(t, HealthHealthy, status.Health)
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	r := newTestRegistry(t)
	base := time.Now()
	r.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		r.RecordOutcome("e1", false, 50*time.Millisecond)
	}

	// Before cooldown the endpoint stays out of rotation.
	ep, err := r.Select(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "e2", ep.ID())

	r.now = func() time.Time { return base.Add(121 * time.Second) }

	ep, err = r.Select(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "e1", ep.ID(), "half-open trial goes to the recovering endpoint")
	assert.Equal(t, BreakerHalfOpen, statusByID(t, r, "e1").BreakerState)

	// A second caller must not piggyback on the in-flight trial.
	ep, err = r.Select(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "e2", ep.ID())
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	r := newTestRegistry(t)
	base := time.Now()
	r.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		r.RecordOutcome("e1", false, 50*time.Millisecond)
	}
	r.now = func() time.Time { return base.Add(121 * time.Second) }

	_, err := r.Select(NetworkMainnet)
	require.NoError(t, err)
	r.RecordOutcome("e1", true, 30*time.Millisecond)

	assert.Equal(t, BreakerClosed, statusByID(t, r, "e1").BreakerState)
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	r := newTestRegistry(t)
	base := time.Now()
	r.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		r.RecordOutcome("e1", false, 50*time.Millisecond)
	}
	r.now = func() time.Time { return base.Add(121 * time.Second) }

	_, err := r.Select(NetworkMainnet)
	require.NoError(t, err)
	r.RecordOutcome("e1", false, 30*time.Millisecond)

	status := statusByID(t, r, "e1")
	assert.Equal(t, BreakerOpen, status.BreakerState)

	// The new open period starts from the failed trial, not the first open.
	ep, err := r.Select(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "e2", ep.ID())
}

func TestMarkUnauthorizedIsPermanent(t *testing.T) {
	r := newTestRegistry(t)

	r.MarkUnauthorized("e1")

	for i := 0; i < 3; i++ {
		ep, err := r.Select(NetworkMainnet)
		require.NoError(t, err)
		assert.Equal(t, "e2", ep.ID())
	}
	assert.Equal(t, HealthUnhealthy, statusByID(t, r, "e1").Health)
}

func TestSelectNoHealthyEndpoint(t *testing.T) {
	r := newTestRegistry(t)

	r.MarkUnauthorized("e1")
	r.MarkUnauthorized("e2")

	_, err := r.Select(NetworkMainnet)
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)
}

func TestLatencyMovingAverage(t *testing.T) {
	r := newTestRegistry(t)

	r.RecordOutcome("e1", true, 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, statusByID(t, r, "e1").AvgLatency)

	r.RecordOutcome("e1", true, 200*time.Millisecond)
	avg := statusByID(t, r, "e1").AvgLatency
	assert.Greater(t, avg, 100*time.Millisecond)
	assert.Less(t, avg, 200*time.Millisecond)
}

func TestSelectWebSocketHonorsBreakerCooldown(t *testing.T) {
	r, err := NewRegistry([]EndpointConfig{
		{ID: "ws1", Network: NetworkMainnet, BaseURL: "https://rpc-1.example.com", WSURL: "wss://rpc-1.example.com", Priority: 1},
	}, RegistryConfig{FailureThreshold: 5, BreakerCooldown: 120 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	base := time.Now()
	r.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		r.RecordOutcome("ws1", false, 50*time.Millisecond)
	}

	_, err = r.SelectWebSocket(NetworkMainnet)
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)

	// The feed must get the endpoint back once the cooldown elapses, even
	// when no RPC traffic has touched the breaker in the meantime.
	r.now = func() time.Time { return base.Add(121 * time.Second) }

	target, err := r.SelectWebSocket(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "ws1", target.EndpointID)
	assert.Equal(t, BreakerHalfOpen, statusByID(t, r, "ws1").BreakerState)

	// Subscribing does not consume the half-open trial token; the next
	// reconnect may pick the same endpoint again.
	target, err = r.SelectWebSocket(NetworkMainnet)
	require.NoError(t, err)
	assert.Equal(t, "ws1", target.EndpointID)
}

func statusByID(t *testing.T, r *Registry, id string) EndpointStatus {
	t.Helper()
	for _, s := range r.Snapshot() {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("endpoint %s not in snapshot", id)
	return EndpointStatus{}
}
