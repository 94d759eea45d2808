// internal/guard/quote.go
package guard

import (
	"math/big"

	"github.com/rovshanmuradov/solana-tradecore/internal/feed"
)

// Quote is the exact trade math the gate approved. The executor reuses it
// verbatim; it is never recomputed between validation and submission.
type Quote struct {
	Price       float64 // spot price at validation, quote per base
	AmountIn    uint64  // quote lamports in
	ExpectedOut uint64  // base units out at current reserves
	MinOut      uint64  // ExpectedOut shaved by the slippage allowance
	ImpactBps   uint64  // projected price impact of AmountIn
	Point       feed.PricePoint
	Snapshot    *feed.PoolSnapshot
}

// computeSwapQuote projects a quote-in swap against current reserves with
// constant-product math:
// out = baseRes * a' / (quoteRes + a'), a' = amountIn * (1 - fee).
func computeSwapQuote(snapshot *feed.PoolSnapshot, amountIn, feeBps uint64) (expectedOut, impactBps uint64) {
	x := new(big.Float).SetUint64(snapshot.QuoteReserve)
	y := new(big.Float).SetUint64(snapshot.BaseReserve)
	a := new(big.Float).SetUint64(amountIn)

	feeFactor := new(big.Float).Quo(
		new(big.Float).SetUint64(10_000-feeBps),
		big.NewFloat(10_000),
	)
	a.Mul(a, feeFactor)

	numerator := new(big.Float).Mul(y, a)
	denominator := new(big.Float).Add(x, a)
	out := new(big.Float).Quo(numerator, denominator)
	expectedOut, _ = out.Uint64()
	if expectedOut == 0 {
		return 0, 0
	}

	// Execution price vs spot price, in basis points.
	execPrice := new(big.Float).Quo(new(big.Float).SetUint64(amountIn), out)
	spotPrice := new(big.Float).Quo(x, y)
	impact := new(big.Float).Quo(new(big.Float).Sub(execPrice, spotPrice), spotPrice)
	impact.Mul(impact, big.NewFloat(10_000))
	if impact.Sign() < 0 {
		return expectedOut, 0
	}
	impactBps, _ = impact.Uint64()
	return expectedOut, impactBps
}

// minOutFor shaves the slippage allowance off the projected output.
// Multiply before dividing so exact inputs stay exact.
func minOutFor(expectedOut, maxSlippageBps uint64) uint64 {
	out := new(big.Float).SetUint64(expectedOut)
	out.Mul(out, new(big.Float).SetUint64(10_000-maxSlippageBps))
	out.Quo(out, big.NewFloat(10_000))
	minOut, _ := out.Uint64()
	return minOut
}
