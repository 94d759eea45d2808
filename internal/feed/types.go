// internal/feed/types.go
package feed

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// PriceSource tags where a price observation came from.
type PriceSource string

const (
	SourceWebSocketDerived PriceSource = "websocket_derived"
	SourceDirectFetch      PriceSource = "direct_fetch"
)

// Confidence grades how much a price observation can be trusted for
// trading decisions. Low-confidence points are never valid for trading.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// PricePoint is one immutable price observation. Newer points supersede
// older ones for the same token; points are never mutated in place.
type PricePoint struct {
	TokenID    string
	Value      float64
	Source     PriceSource
	ObservedAt time.Time
	Confidence Confidence
}

// PoolSnapshot is the decoded reserve state of one AMM pool. Both
// reserves are always positive; zero-reserve states are dropped at decode
// time and never published.
type PoolSnapshot struct {
	PoolAddress  solana.PublicKey
	Variant      DexVariant
	BaseMint     solana.PublicKey
	QuoteMint    solana.PublicKey
	BaseReserve  uint64
	QuoteReserve uint64
	LastSlot     uint64
}

// Price derives the pool price as quote reserve over base reserve.
func (s *PoolSnapshot) Price() float64 {
	if s.BaseReserve == 0 {
		return 0
	}
	return float64(s.QuoteReserve) / float64(s.BaseReserve)
}

// Update is one event on the feed's outbound stream: exactly one of the
// fields is set.
type Update struct {
	Snapshot *PoolSnapshot
	Price    *PricePoint
}
