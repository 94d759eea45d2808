// internal/guard/gate.go
package guard

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-tradecore/internal/feed"
	"github.com/rovshanmuradov/solana-tradecore/internal/rpcpool"
)

const (
	DefaultMaxPriceAge      = 50 * time.Millisecond
	DefaultTolerancePercent = 0.5
	DefaultMaxSlippageBps   = 100
	DefaultFreshDataTimeout = time.Second
	DefaultSwapFeeBps       = 25

	// Lamports per SOL, and the default per-network caps and fee margin.
	lamportsPerSOL         = 1_000_000_000
	DefaultMainnetCap      = lamportsPerSOL / 10 // 0.1 SOL
	DefaultDevnetCap       = lamportsPerSOL      // 1.0 SOL
	DefaultFeeSafetyMargin = lamportsPerSOL / 100
)

// TradeRequest is one trade the caller wants validated and executed.
// AmountIn is the quote amount in lamports.
type TradeRequest struct {
	TokenID        string
	PoolAddress    solana.PublicKey
	Variant        feed.DexVariant
	Network        rpcpool.Network
	WalletRef      string
	Payer          solana.PublicKey
	AmountIn       uint64
	MaxSlippageBps uint64 // 0 means the gate default
}

// TradeValidationResult is the outcome of exactly one validation pass.
// The gate never retries on its own; a rejected request must be
// resubmitted by the caller.
type TradeValidationResult struct {
	Approved  bool
	Quote     Quote
	FetchAge  time.Duration
	Rejection error // *StaleDataError or *SafetyLimitError when not approved
}

// Config tunes the gate. Zero values fall back to defaults.
type Config struct {
	MaxPriceAge      time.Duration
	TolerancePercent float64
	MaxSlippageBps   uint64
	FreshDataTimeout time.Duration
	SwapFeeBps       uint64
	TradeCaps        map[rpcpool.Network]uint64 // lamports
	FeeSafetyMargin  uint64                     // lamports
}

func (c *Config) applyDefaults() {
	if c.MaxPriceAge <= 0 {
		c.MaxPriceAge = DefaultMaxPriceAge
	}
	if c.TolerancePercent <= 0 {
		c.TolerancePercent = DefaultTolerancePercent
	}
	if c.MaxSlippageBps == 0 {
		c.MaxSlippageBps = DefaultMaxSlippageBps
	}
	if c.FreshDataTimeout <= 0 {
		c.FreshDataTimeout = DefaultFreshDataTimeout
	}
	if c.SwapFeeBps == 0 {
		c.SwapFeeBps = DefaultSwapFeeBps
	}
	if c.TradeCaps == nil {
		c.TradeCaps = map[rpcpool.Network]uint64{
			rpcpool.NetworkMainnet: DefaultMainnetCap,
			rpcpool.NetworkDevnet:  DefaultDevnetCap,
		}
	}
	if c.FeeSafetyMargin == 0 {
		c.FeeSafetyMargin = DefaultFeeSafetyMargin
	}
}

// PriceReader is the feed surface the gate cross-checks against.
type PriceReader interface {
	LatestPrice(tokenID string) (feed.PricePoint, bool)
}

type poolFetchFunc func(ctx context.Context, req TradeRequest) (*feed.PoolSnapshot, error)
type balanceFunc func(ctx context.Context, network rpcpool.Network, pubkey solana.PublicKey) (uint64, error)

// Gate validates trades against live chain state. It never trades on a
// cached price: every Validate call reads the pool account fresh and
// rejects unconditionally if the read took longer than MaxPriceAge. The
// cached WebSocket price is only a cross-check, never the trade basis.
type Gate struct {
	cfg    Config
	prices PriceReader
	logger *zap.Logger
	now    func() time.Time

	fetchPool poolFetchFunc
	balance   balanceFunc
}

// NewGate builds a gate backed by the RPC pool for direct fetches and
// balance reads.
func NewGate(cfg Config, pool *rpcpool.Pool, prices PriceReader, logger *zap.Logger) *Gate {
	cfg.applyDefaults()
	g := &Gate{
		cfg:    cfg,
		prices: prices,
		logger: logger.Named("guard"),
		now:    time.Now,
	}
	g.fetchPool = func(ctx context.Context, req TradeRequest) (*feed.PoolSnapshot, error) {
		account, err := pool.GetAccountInfo(ctx, req.Network, req.PoolAddress)
		if err != nil {
			return nil, fmt.Errorf("direct pool fetch: %w", err)
		}
		if account == nil || account.Value == nil {
			return nil, fmt.Errorf("direct pool fetch: account %s not found", req.PoolAddress)
		}
		return feed.DecodePoolAccount(req.Variant, req.PoolAddress,
			account.Value.Data.GetBinary(), account.RPCContext.Context.Slot)
	}
	g.balance = func(ctx context.Context, network rpcpool.Network, pubkey solana.PublicKey) (uint64, error) {
		return pool.GetBalance(ctx, network, pubkey)
	}
	return g
}

// Validate runs the full decision sequence for one request. The returned
// error reports infrastructure failure only; safety rejections come back
// in TradeValidationResult.Rejection. Statistically the stale-data path
// dominates rejections: a direct mainnet fetch routinely takes longer
// than the freshness window.
func (g *Gate) Validate(ctx context.Context, req TradeRequest) (TradeValidationResult, error) {
	maxSlippage := req.MaxSlippageBps
	if maxSlippage == 0 {
		maxSlippage = g.cfg.MaxSlippageBps
	}
	// 10_000 bps would waive min-out protection entirely.
	if maxSlippage >= 10_000 {
		return g.reject(req, &SafetyLimitError{
			Code:   RejectSlippageExceeded,
			Limit:  10_000,
			Actual: float64(maxSlippage),
			Detail: "slippage allowance must stay below 10000 bps",
		}), nil
	}

	// Cap check runs before any network call.
	tradeCap, ok := g.cfg.TradeCaps[req.Network]
	if !ok {
		return TradeValidationResult{}, fmt.Errorf("no trade cap configured for network %q", req.Network)
	}
	if req.AmountIn > tradeCap {
		return g.reject(req, &SafetyLimitError{
			Code:   RejectTradeCapExceeded,
			Limit:  float64(tradeCap) / lamportsPerSOL,
			Actual: float64(req.AmountIn) / lamportsPerSOL,
			Detail: fmt.Sprintf("trade amount exceeds the %s cap", req.Network),
		}), nil
	}

	// Direct, uncached read of the traded pool.
	fetchStart := g.now()
	fetchCtx, cancel := context.WithTimeout(ctx, g.cfg.FreshDataTimeout)
	snapshot, err := g.fetchPool(fetchCtx, req)
	cancel()
	if err != nil {
		return TradeValidationResult{}, err
	}
	fetchAge := g.now().Sub(fetchStart)

	if fetchAge > g.cfg.MaxPriceAge {
		result := g.reject(req, &StaleDataError{Age: fetchAge, MaxAge: g.cfg.MaxPriceAge})
		result.FetchAge = fetchAge
		return result, nil
	}

	directPrice := snapshot.Price()

	// Cross-check against the feed when it has a point fresh enough to
	// matter. An absent or aged point skips the check; it never approves
	// a trade on its own.
	if point, ok := g.prices.LatestPrice(req.TokenID); ok &&
		point.Source == feed.SourceWebSocketDerived &&
		point.Confidence != feed.ConfidenceLow &&
		g.now().Sub(point.ObservedAt) <= g.cfg.MaxPriceAge {
		divergence := math.Abs(directPrice-point.Value) / directPrice * 100
		if divergence > g.cfg.TolerancePercent {
			result := g.reject(req, &SafetyLimitError{
				Code:   RejectPriceDivergence,
				Limit:  g.cfg.TolerancePercent,
				Actual: divergence,
				Detail: "direct price diverges from the stream-derived price",
			})
			result.FetchAge = fetchAge
			return result, nil
		}
	}

	expectedOut, impactBps := computeSwapQuote(snapshot, req.AmountIn, g.cfg.SwapFeeBps)
	if expectedOut == 0 {
		return TradeValidationResult{}, fmt.Errorf("projected output is zero for amount %d", req.AmountIn)
	}
	if impactBps > maxSlippage {
		result := g.reject(req, &SafetyLimitError{
			Code:   RejectSlippageExceeded,
			Limit:  float64(maxSlippage),
			Actual: float64(impactBps),
			Detail: "projected price impact exceeds the slippage allowance",
		})
		result.FetchAge = fetchAge
		return result, nil
	}

	balance, err := g.balance(ctx, req.Network, req.Payer)
	if err != nil {
		return TradeValidationResult{}, fmt.Errorf("balance check: %w", err)
	}
	if balance < req.AmountIn+g.cfg.FeeSafetyMargin {
		result := g.reject(req, &SafetyLimitError{
			Code:   RejectInsufficientBalance,
			Limit:  float64(req.AmountIn+g.cfg.FeeSafetyMargin) / lamportsPerSOL,
			Actual: float64(balance) / lamportsPerSOL,
			Detail: "wallet balance cannot cover the trade plus the fee margin",
		})
		result.FetchAge = fetchAge
		return result, nil
	}

	quote := Quote{
		Price:       directPrice,
		AmountIn:    req.AmountIn,
		ExpectedOut: expectedOut,
		MinOut:      minOutFor(expectedOut, maxSlippage),
		ImpactBps:   impactBps,
		Point: feed.PricePoint{
			TokenID:    req.TokenID,
			Value:      directPrice,
			Source:     feed.SourceDirectFetch,
			ObservedAt: fetchStart,
			Confidence: feed.ConfidenceHigh,
		},
		Snapshot: snapshot,
	}
	g.logger.Info("Trade approved",
		zap.String("token", req.TokenID),
		zap.Uint64("amount_in", req.AmountIn),
		zap.Uint64("expected_out", quote.ExpectedOut),
		zap.Uint64("min_out", quote.MinOut),
		zap.Uint64("impact_bps", quote.ImpactBps),
		zap.Duration("fetch_age", fetchAge))
	return TradeValidationResult{Approved: true, Quote: quote, FetchAge: fetchAge}, nil
}

func (g *Gate) reject(req TradeRequest, rejection error) TradeValidationResult {
	g.logger.Warn("Trade rejected",
		zap.String("token", req.TokenID),
		zap.String("network", string(req.Network)),
		zap.Uint64("amount_in", req.AmountIn),
		zap.Error(rejection))
	return TradeValidationResult{Rejection: rejection}
}
