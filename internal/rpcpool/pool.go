// internal/rpcpool/pool.go
package rpcpool

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultRetryBudget = 3
	DefaultCallTimeout = 10 * time.Second
)

// WSTarget is a ready-to-dial WebSocket subscription target with its
// authentication already applied.
type WSTarget struct {
	EndpointID string
	URL        string
	Header     http.Header
}

// Operation is one RPC call executed against a selected endpoint.
type Operation func(ctx context.Context, ep *Endpoint) error

// PoolConfig tunes call execution.
type PoolConfig struct {
	RetryBudget int
	CallTimeout time.Duration
}

// Pool executes RPC operations against the registry's endpoints with
// per-call timeout and failover. Concurrent callers select endpoints
// independently; no caller blocks another while waiting on I/O.
type Pool struct {
	registry *Registry
	cfg      PoolConfig
	logger   *zap.Logger
}

// NewPool wraps a registry with call execution.
func NewPool(registry *Registry, cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Pool{
		registry: registry,
		cfg:      cfg,
		logger:   logger.Named("rpc-pool"),
	}
}

// Registry exposes the owned registry for observability snapshots.
func (p *Pool) Registry() *Registry { return p.registry }

// Execute runs op against the best endpoint, recording the outcome and
// failing over to the next-best distinct endpoint until the retry budget
// is spent. Auth rejections take the endpoint out of rotation instead of
// being counted as ordinary failures.
func (p *Pool) Execute(ctx context.Context, network Network, op Operation) error {
	tried := make(map[string]bool, p.cfg.RetryBudget)
	var lastErr error

	for attempt := 1; attempt <= p.cfg.RetryBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ep, err := p.registry.SelectExcluding(network, tried)
		if err != nil {
			if lastErr != nil {
				return &ExhaustedError{Network: network, Attempts: attempt - 1, Err: lastErr}
			}
			return err
		}
		tried[ep.id] = true

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		start := time.Now()
		err = op(callCtx, ep)
		latency := time.Since(start)
		cancel()

		if err == nil {
			p.registry.RecordOutcome(ep.id, true, latency)
			return nil
		}

		if isAuthError(err) {
			p.registry.MarkUnauthorized(ep.id)
			lastErr = &AuthError{EndpointID: ep.id, Err: err}
			continue
		}

		p.registry.RecordOutcome(ep.id, false, latency)
		lastErr = err
		p.logger.Debug("RPC call failed, trying next endpoint",
			zap.String("endpoint", ep.id),
			zap.Int("attempt", attempt),
			zap.Duration("latency", latency),
			zap.Error(err))
	}

	return &ExhaustedError{Network: network, Attempts: p.cfg.RetryBudget, Err: lastErr}
}
