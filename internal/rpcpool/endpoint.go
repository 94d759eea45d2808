// internal/rpcpool/endpoint.go
package rpcpool

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// Network identifies which Solana cluster an endpoint serves.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkDevnet  Network = "devnet"
)

// AuthScheme describes how a provider expects its credential.
type AuthScheme string

const (
	// AuthQueryParam embeds the API key in the request URL (Helius, Alchemy).
	AuthQueryParam AuthScheme = "query_param"
	// AuthHeader sends the API key as a request header (Tatum).
	AuthHeader AuthScheme = "header"
)

const defaultAuthHeader = "x-api-key"

// Health is the coarse availability state of an endpoint.
type Health int

const (
	HealthHealthy Health = iota
	HealthDegraded
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// BreakerState is the per-endpoint circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// EndpointConfig describes a single provider endpoint. Credentials are
// resolved from the environment variable named in CredentialEnv, never
// stored in configuration files.
type EndpointConfig struct {
	ID            string
	Provider      string
	Network       Network
	BaseURL       string
	WSURL         string
	AuthScheme    AuthScheme
	HeaderName    string
	CredentialEnv string
	Priority      int
}

// Endpoint is one RPC provider connection with live health and breaker
// state. All mutable fields are owned by the Registry and guarded by its
// lock; the RPC client itself is immutable after construction.
type Endpoint struct {
	id       string
	provider string
	network  Network
	scheme   AuthScheme
	priority int

	client   *rpc.Client
	wsURL    string
	wsHeader http.Header

	health              Health
	consecutiveFailures int
	breakerState        BreakerState
	breakerOpenedAt     time.Time
	trialInFlight       bool
	avgLatency          time.Duration
	latencySamples      uint64
}

// newEndpoint builds the endpoint with its credential already applied in
// the form the provider expects, so a request is never sent with the wrong
// scheme.
func newEndpoint(cfg EndpointConfig) (*Endpoint, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("endpoint id is required")
	}
	if cfg.Network != NetworkMainnet && cfg.Network != NetworkDevnet {
		return nil, fmt.Errorf("endpoint %s: unknown network %q", cfg.ID, cfg.Network)
	}

	credential := ""
	if cfg.CredentialEnv != "" {
		credential = strings.TrimSpace(os.Getenv(cfg.CredentialEnv))
		if credential == "" {
			return nil, fmt.Errorf("endpoint %s: credential env %s is empty", cfg.ID, cfg.CredentialEnv)
		}
	}

	ep := &Endpoint{
		id:           cfg.ID,
		provider:     cfg.Provider,
		network:      cfg.Network,
		scheme:       cfg.AuthScheme,
		priority:     cfg.Priority,
		health:       HealthHealthy,
		breakerState: BreakerClosed,
	}

	switch cfg.AuthScheme {
	case AuthQueryParam, "":
		httpURL, err := embedCredential(cfg.BaseURL, credential)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", cfg.ID, err)
		}
		ep.client = rpc.New(httpURL)
		if cfg.WSURL != "" {
			wsURL, err := embedCredential(cfg.WSURL, credential)
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", cfg.ID, err)
			}
			ep.wsURL = wsURL
		}
	case AuthHeader:
		header := cfg.HeaderName
		if header == "" {
			header = defaultAuthHeader
		}
		ep.client = rpc.NewWithHeaders(cfg.BaseURL, map[string]string{header: credential})
		if cfg.WSURL != "" {
			ep.wsURL = cfg.WSURL
			ep.wsHeader = http.Header{header: []string{credential}}
		}
	default:
		return nil, fmt.Errorf("endpoint %s: unknown auth scheme %q", cfg.ID, cfg.AuthScheme)
	}

	return ep, nil
}

// embedCredential appends the API key as an api-key query parameter, or
// substitutes it into a {API_KEY} template if the URL carries one.
func embedCredential(rawURL, credential string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("base URL is required")
	}
	if credential == "" {
		return rawURL, nil
	}
	if strings.Contains(rawURL, "{API_KEY}") {
		return strings.ReplaceAll(rawURL, "{API_KEY}", credential), nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	q := parsed.Query()
	q.Set("api-key", credential)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// ID returns the stable endpoint identifier.
func (e *Endpoint) ID() string { return e.id }

// Network returns the cluster this endpoint serves.
func (e *Endpoint) Network() Network { return e.network }

// RPC returns the solana-go client bound to this endpoint.
func (e *Endpoint) RPC() *rpc.Client { return e.client }

// EndpointStatus is an observability copy of an endpoint's live state.
type EndpointStatus struct {
	ID                  string
	Provider            string
	Network             Network
	AuthScheme          AuthScheme
	Priority            int
	Health              Health
	ConsecutiveFailures int
	BreakerState        BreakerState
	BreakerOpenedAt     time.Time
	AvgLatency          time.Duration
}
