// internal/engine/wiring.go
package engine

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-tradecore/internal/config"
	"github.com/rovshanmuradov/solana-tradecore/internal/feed"
	"github.com/rovshanmuradov/solana-tradecore/internal/guard"
	"github.com/rovshanmuradov/solana-tradecore/internal/rpcpool"
)

const lamportsPerSOL = 1_000_000_000

func endpointConfigs(cfg *config.Config) []rpcpool.EndpointConfig {
	out := make([]rpcpool.EndpointConfig, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		scheme := rpcpool.AuthQueryParam
		if ep.AuthScheme == "header" {
			scheme = rpcpool.AuthHeader
		}
		out = append(out, rpcpool.EndpointConfig{
			ID:            ep.ID,
			Provider:      ep.Provider,
			Network:       rpcpool.Network(ep.Network),
			BaseURL:       ep.URL,
			WSURL:         ep.WSURL,
			AuthScheme:    scheme,
			HeaderName:    ep.HeaderName,
			CredentialEnv: ep.CredentialEnv,
			Priority:      ep.Priority,
		})
	}
	return out
}

// poolTargets groups configured pool subscriptions by network, skipping
// entries whose address fails to parse. Validation already caught the
// variant and network fields.
func poolTargets(cfg *config.Config) map[rpcpool.Network][]feed.PoolTarget {
	out := make(map[rpcpool.Network][]feed.PoolTarget)
	for _, target := range cfg.PoolTargets {
		address, err := solana.PublicKeyFromBase58(target.Pool)
		if err != nil {
			continue
		}
		variant := feed.VariantA
		if target.Variant == "B" {
			variant = feed.VariantB
		}
		network := rpcpool.Network(target.Network)
		out[network] = append(out[network], feed.PoolTarget{
			PoolAddress: address,
			Variant:     variant,
		})
	}
	return out
}

func guardConfig(cfg *config.Config) guard.Config {
	return guard.Config{
		MaxPriceAge:      msToDuration(cfg.Safety.MaxPriceAgeMs),
		TolerancePercent: cfg.Safety.PriceTolerancePercent,
		MaxSlippageBps:   uint64(cfg.Safety.MaxSlippageBps),
		FreshDataTimeout: msToDuration(cfg.Safety.FreshDataTimeoutMs),
		TradeCaps: map[rpcpool.Network]uint64{
			rpcpool.NetworkMainnet: solToLamports(cfg.Safety.MainnetTradeCapSOL),
			rpcpool.NetworkDevnet:  solToLamports(cfg.Safety.DevnetTradeCapSOL),
		},
		FeeSafetyMargin: solToLamports(cfg.Safety.FeeSafetyMarginSOL),
	}
}

// rejectionCode maps a typed rejection back to its storage code.
func rejectionCode(rejection error) string {
	var stale *guard.StaleDataError
	if errors.As(rejection, &stale) {
		return "stale_data"
	}
	var limit *guard.SafetyLimitError
	if errors.As(rejection, &limit) {
		return string(limit.Code)
	}
	return "unknown"
}

func solToLamports(sol float64) uint64 {
	return uint64(sol * lamportsPerSOL)
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
