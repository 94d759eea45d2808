// internal/executor/record.go
package executor

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-tradecore/internal/rpcpool"
)

// TxStatus walks Built -> Signed -> Submitted -> Pending and ends in
// exactly one of Confirmed, Finalized, Failed, or TimedOut. TimedOut is
// not Failed: the transaction may still land and is reconciled
// out-of-band.
type TxStatus string

const (
	StatusBuilt     TxStatus = "built"
	StatusSigned    TxStatus = "signed"
	StatusSubmitted TxStatus = "submitted"
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFinalized TxStatus = "finalized"
	StatusFailed    TxStatus = "failed"
	StatusTimedOut  TxStatus = "timed_out"
)

// Terminal reports whether the status ends monitoring.
func (s TxStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFinalized, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// TransactionRecord tracks one submitted swap from signing to its
// terminal state. Once terminal it is never mutated again; readers
// always receive copies.
type TransactionRecord struct {
	ID        string
	Signature solana.Signature
	TokenID   string
	WalletRef string
	Network   rpcpool.Network

	AmountIn    uint64
	ExpectedOut uint64
	MinOut      uint64

	Status        TxStatus
	SubmittedAt   time.Time
	TerminalAt    time.Time
	Slot          uint64
	FeePaid       uint64
	ComputeUnits  uint64
	Logs          []string
	FailureReason string
}

// ExecutionError wraps a chain-side failure with the raw reason
// preserved verbatim.
type ExecutionError struct {
	Signature solana.Signature
	Reason    string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("transaction %s failed on chain: %s", e.Signature, e.Reason)
}
