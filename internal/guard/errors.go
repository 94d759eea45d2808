// internal/guard/errors.go
package guard

import (
	"fmt"
	"time"
)

// RejectionCode names the specific safety limit a trade violated.
type RejectionCode string

const (
	RejectPriceDivergence     RejectionCode = "price_divergence"
	RejectSlippageExceeded    RejectionCode = "slippage_exceeded"
	RejectTradeCapExceeded    RejectionCode = "trade_cap_exceeded"
	RejectInsufficientBalance RejectionCode = "insufficient_balance"
)

// StaleDataError rejects a trade whose price data exceeded the freshness
// window. The caller may resubmit; fresher data may pass.
type StaleDataError struct {
	Age    time.Duration
	MaxAge time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("price data is stale: age %s exceeds maximum %s", e.Age, e.MaxAge)
}

// SafetyLimitError rejects a trade that violated a configured safety
// limit. Never retried automatically; Limit and Actual carry the numbers
// that tripped it.
type SafetyLimitError struct {
	Code   RejectionCode
	Limit  float64
	Actual float64
	Detail string
}

func (e *SafetyLimitError) Error() string {
	return fmt.Sprintf("%s: %s (limit %g, actual %g)", e.Code, e.Detail, e.Limit, e.Actual)
}
