// internal/rpcpool/registry.go
package rpcpool

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// latencyAlpha is the smoothing factor of the latency EMA.
	latencyAlpha = 0.3

	DefaultFailureThreshold = 5
	DefaultBreakerCooldown  = 120 * time.Second
)

// RegistryConfig tunes circuit breaker behavior.
type RegistryConfig struct {
	FailureThreshold int
	BreakerCooldown  time.Duration
}

// Registry owns every endpoint's health and breaker state. Endpoints are
// created at startup and never removed; an endpoint with a bad credential
// is marked permanently unhealthy instead.
type Registry struct {
	mu        sync.Mutex
	byNetwork map[Network][]*Endpoint
	byID      map[string]*Endpoint
	cfg       RegistryConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistry builds endpoints from configuration. Entries whose credential
// cannot be resolved are skipped with a warning so one missing env var does
// not take the whole pool down.
func NewRegistry(configs []EndpointConfig, cfg RegistryConfig, logger *zap.Logger) (*Registry, error) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}

	r := &Registry{
		byNetwork: make(map[Network][]*Endpoint),
		byID:      make(map[string]*Endpoint),
		cfg:       cfg,
		logger:    logger.Named("endpoint-registry"),
		now:       time.Now,
	}

	for _, ec := range configs {
		ep, err := newEndpoint(ec)
		if err != nil {
			r.logger.Warn("Skipping endpoint",
				zap.String("endpoint", ec.ID),
				zap.Error(err))
			continue
		}
		r.byNetwork[ep.network] = append(r.byNetwork[ep.network], ep)
		r.byID[ep.id] = ep
		r.logger.Info("Registered endpoint",
			zap.String("endpoint", ep.id),
			zap.String("provider", ep.provider),
			zap.String("network", string(ep.network)),
			zap.String("auth_scheme", string(ep.scheme)),
			zap.Int("priority", ep.priority))
	}

	if len(r.byID) == 0 {
		return nil, ErrNoEndpointsConfigured
	}
	return r, nil
}

// Select returns the best selectable endpoint for the network: lowest
// priority number whose breaker is not open and whose health is not
// unhealthy, ties broken on lowest average latency. An open breaker whose
// cooldown has elapsed moves to half-open here; only one caller at a time
// may hold a half-open endpoint as its trial.
func (r *Registry) Select(network Network) (*Endpoint, error) {
	return r.SelectExcluding(network, nil)
}

// SelectExcluding is Select minus a set of endpoint ids already tried in
// the current call, so retries fan out across distinct endpoints.
func (r *Registry) SelectExcluding(network Network, exclude map[string]bool) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]*Endpoint, 0, len(r.byNetwork[network]))
	for _, ep := range r.byNetwork[network] {
		if exclude[ep.id] {
			continue
		}
		if ep.health == HealthUnhealthy {
			continue
		}
		if ep.breakerState == BreakerOpen {
			if r.now().Sub(ep.breakerOpenedAt) < r.cfg.BreakerCooldown {
				continue
			}
			r.transition(ep, BreakerHalfOpen, "cooldown elapsed")
		}
		if ep.breakerState == BreakerHalfOpen && ep.trialInFlight {
			continue
		}
		candidates = append(candidates, ep)
	}

	if len(candidates) == 0 {
		return nil, ErrNoHealthyEndpoint
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].avgLatency < candidates[j].avgLatency
	})

	ep := candidates[0]
	if ep.breakerState == BreakerHalfOpen {
		ep.trialInFlight = true
	}
	return ep, nil
}

// RecordOutcome feeds one call result back into the endpoint's health and
// breaker state. Must be called exactly once per Select.
func (r *Registry) RecordOutcome(id string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.byID[id]
	if !ok {
		return
	}

	ep.trialInFlight = false
	r.updateLatency(ep, latency)

	if success {
		ep.consecutiveFailures = 0
		if ep.breakerState == BreakerHalfOpen {
			r.transition(ep, BreakerClosed, "trial call succeeded")
		}
		if ep.health == HealthDegraded {
			ep.health = HealthHealthy
		}
		return
	}

	ep.consecutiveFailures++
	switch ep.breakerState {
	case BreakerHalfOpen:
		ep.breakerOpenedAt = r.now()
		r.transition(ep, BreakerOpen, "trial call failed")
	case BreakerClosed:
		if ep.health == HealthHealthy {
			ep.health = HealthDegraded
		}
		if ep.consecutiveFailures >= r.cfg.FailureThreshold {
			ep.breakerOpenedAt = r.now()
			r.transition(ep, BreakerOpen, "failure threshold reached")
		}
	}
}

// MarkUnauthorized permanently removes an endpoint from selection. A wrong
// credential never fixes itself, and retrying it would record spurious
// failures against a provider that is otherwise fine.
func (r *Registry) MarkUnauthorized(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.byID[id]
	if !ok {
		return
	}
	ep.trialInFlight = false
	if ep.health != HealthUnhealthy {
		ep.health = HealthUnhealthy
		r.logger.Error("Endpoint marked unhealthy: authentication rejected",
			zap.String("endpoint", ep.id),
			zap.String("provider", ep.provider),
			zap.String("auth_scheme", string(ep.scheme)))
	}
}

// SelectWebSocket returns the subscription target of the best endpoint
// that exposes one, using the same selection rules as RPC calls.
func (r *Registry) SelectWebSocket(network Network) (WSTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Endpoint
	for _, ep := range r.byNetwork[network] {
		if ep.wsURL == "" || ep.health == HealthUnhealthy {
			continue
		}
		if ep.breakerState == BreakerOpen {
			if r.now().Sub(ep.breakerOpenedAt) < r.cfg.BreakerCooldown {
				continue
			}
			r.transition(ep, BreakerHalfOpen, "cooldown elapsed")
		}
		if best == nil || ep.priority < best.priority ||
			(ep.priority == best.priority && ep.avgLatency < best.avgLatency) {
			best = ep
		}
	}
	if best == nil {
		return WSTarget{}, ErrNoHealthyEndpoint
	}
	return WSTarget{EndpointID: best.id, URL: best.wsURL, Header: best.wsHeader.Clone()}, nil
}

// Snapshot returns observability copies of every endpoint's state.
func (r *Registry) Snapshot() []EndpointStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EndpointStatus, 0, len(r.byID))
	for _, eps := range r.byNetwork {
		for _, ep := range eps {
			out = append(out, EndpointStatus{
				ID:                  ep.id,
				Provider:            ep.provider,
				Network:             ep.network,
				AuthScheme:          ep.scheme,
				Priority:            ep.priority,
				Health:              ep.health,
				ConsecutiveFailures: ep.consecutiveFailures,
				BreakerState:        ep.breakerState,
				BreakerOpenedAt:     ep.breakerOpenedAt,
				AvgLatency:          ep.avgLatency,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) updateLatency(ep *Endpoint, latency time.Duration) {
	if latency <= 0 {
		return
	}
	if ep.latencySamples == 0 {
		ep.avgLatency = latency
	} else {
		ep.avgLatency = time.Duration(float64(ep.avgLatency) +
			latencyAlpha*float64(latency-ep.avgLatency))
	}
	ep.latencySamples++
}

// transition mutates the breaker state and logs it. Caller holds r.mu.
func (r *Registry) transition(ep *Endpoint, to BreakerState, reason string) {
	from := ep.breakerState
	if from == to {
		return
	}
	ep.breakerState = to
	r.logger.Info("Breaker transition",
		zap.String("endpoint", ep.id),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
		zap.Int("consecutive_failures", ep.consecutiveFailures))
}
