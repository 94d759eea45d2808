// internal/executor/executor.go
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-tradecore/internal/guard"
	"github.com/rovshanmuradov/solana-tradecore/internal/rpcpool"
)

const (
	DefaultPollInterval        = 500 * time.Millisecond
	DefaultMaxConfirmationTime = 60 * time.Second
	DefaultPresignDelay        = 2 * time.Second
	DefaultComputeUnitLimit    = 200_000
	DefaultComputeUnitPrice    = 5_000 // micro-lamports
)

// Config tunes execution and confirmation monitoring.
type Config struct {
	PollInterval        time.Duration
	MaxConfirmationTime time.Duration
	PresignDelay        time.Duration // mainnet only; devnet skips it
	SkipPreflight       bool
	ComputeUnitLimit    uint32
	ComputeUnitPrice    uint64
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxConfirmationTime <= 0 {
		c.MaxConfirmationTime = DefaultMaxConfirmationTime
	}
	if c.PresignDelay == 0 {
		c.PresignDelay = DefaultPresignDelay
	}
	// a negative PresignDelay disables the delay entirely
	if c.ComputeUnitLimit == 0 {
		c.ComputeUnitLimit = DefaultComputeUnitLimit
	}
	if c.ComputeUnitPrice == 0 {
		c.ComputeUnitPrice = DefaultComputeUnitPrice
	}
}

// Signer signs assembled transactions for one wallet.
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

// SignatureStatus is the monitor's view of one poll response.
type SignatureStatus struct {
	Slot               uint64
	Err                interface{}
	ConfirmationStatus rpc.ConfirmationStatusType
}

type txDetails struct {
	Slot         uint64
	Fee          uint64
	ComputeUnits uint64
	Logs         []string
}

type recordEntry struct {
	record TransactionRecord
	done   chan struct{}
}

type (
	statusFunc    func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*SignatureStatus, error)
	detailsFunc   func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*txDetails, error)
	submitFunc    func(ctx context.Context, network rpcpool.Network, tx *solana.Transaction) (solana.Signature, error)
	blockhashFunc func(ctx context.Context, network rpcpool.Network) (solana.Hash, error)
	sleepFunc     func(ctx context.Context, d time.Duration) error
)

// Executor builds, signs, and submits approved trades, then monitors
// each signature to a terminal state. Monitoring runs one goroutine per
// signature; a stuck signature never blocks another. Once a transaction
// is submitted it cannot be cancelled, only watched.
type Executor struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	sleep  sleepFunc

	checkStatus  statusFunc
	fetchDetails detailsFunc
	submitTx     submitFunc
	blockhash    blockhashFunc

	onTerminal func(TransactionRecord)

	mu      sync.RWMutex
	records map[solana.Signature]*recordEntry
	wg      sync.WaitGroup
}

// NewExecutor builds an executor backed by the RPC pool.
func NewExecutor(cfg Config, pool *rpcpool.Pool, logger *zap.Logger) *Executor {
	cfg.applyDefaults()
	e := &Executor{
		cfg:     cfg,
		logger:  logger.Named("executor"),
		now:     time.Now,
		records: make(map[solana.Signature]*recordEntry),
	}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
	e.checkStatus = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*SignatureStatus, error) {
		out, err := pool.GetSignatureStatuses(ctx, network, sig)
		if err != nil {
			return nil, err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return nil, nil
		}
		v := out.Value[0]
		return &SignatureStatus{Slot: v.Slot, Err: v.Err, ConfirmationStatus: v.ConfirmationStatus}, nil
	}
	e.fetchDetails = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*txDetails, error) {
		out, err := pool.GetTransaction(ctx, network, sig)
		if err != nil {
			return nil, err
		}
		if out == nil || out.Meta == nil {
			return nil, fmt.Errorf("transaction %s has no metadata", sig)
		}
		details := &txDetails{Slot: out.Slot, Fee: out.Meta.Fee, Logs: out.Meta.LogMessages}
		if out.Meta.ComputeUnitsConsumed != nil {
			details.ComputeUnits = *out.Meta.ComputeUnitsConsumed
		}
		return details, nil
	}
	e.submitTx = func(ctx context.Context, network rpcpool.Network, tx *solana.Transaction) (solana.Signature, error) {
		return pool.SendTransaction(ctx, network, tx, cfg.SkipPreflight)
	}
	e.blockhash = func(ctx context.Context, network rpcpool.Network) (solana.Hash, error) {
		return pool.GetLatestBlockhash(ctx, network)
	}
	return e
}

// OnTerminal registers a hook invoked once per record when it reaches a
// terminal state. Must be set before the first Execute.
func (e *Executor) OnTerminal(fn func(TransactionRecord)) {
	e.onTerminal = fn
}

// Execute runs one approved trade end to end: re-verify the quote,
// build, sign (after the mainnet pre-sign delay), submit, and start the
// confirmation monitor. Returns the record in Pending state; Await
// blocks until it is terminal.
func (e *Executor) Execute(ctx context.Context, req guard.TradeRequest, quote guard.Quote, signer Signer) (*TransactionRecord, error) {
	// Tamper guard: the approved quote must match the request exactly.
	if quote.AmountIn != req.AmountIn {
		return nil, fmt.Errorf("approved quote amount %d does not match request amount %d", quote.AmountIn, req.AmountIn)
	}
	if quote.Snapshot == nil {
		return nil, fmt.Errorf("approved quote carries no pool snapshot")
	}

	payer := signer.PublicKey()
	instructions, err := buildInstructions(req, quote, payer, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("build instructions: %w", err)
	}

	blockhash, err := e.blockhash(ctx, req.Network)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}

	// Last moment to cancel: the pre-sign delay runs before any
	// signature exists.
	if req.Network == rpcpool.NetworkMainnet && e.cfg.PresignDelay > 0 {
		if err := e.sleep(ctx, e.cfg.PresignDelay); err != nil {
			return nil, fmt.Errorf("cancelled during pre-sign delay: %w", err)
		}
	}

	if err := signer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := e.submitTx(ctx, req.Network, tx)
	if err != nil {
		return nil, fmt.Errorf("submit transaction: %w", err)
	}

	record := TransactionRecord{
		ID:          uuid.NewString(),
		Signature:   sig,
		TokenID:     req.TokenID,
		WalletRef:   req.WalletRef,
		Network:     req.Network,
		AmountIn:    quote.AmountIn,
		ExpectedOut: quote.ExpectedOut,
		MinOut:      quote.MinOut,
		Status:      StatusPending,
		SubmittedAt: e.now(),
	}
	entry := &recordEntry{record: record, done: make(chan struct{})}
	e.mu.Lock()
	e.records[sig] = entry
	e.mu.Unlock()

	e.logger.Info("Transaction submitted",
		zap.String("signature", sig.String()),
		zap.String("token", req.TokenID),
		zap.Uint64("amount_in", quote.AmountIn),
		zap.Uint64("min_out", quote.MinOut))

	e.wg.Add(1)
	go e.monitor(sig, req.Network)

	snapshot := record
	return &snapshot, nil
}

// monitor polls signature status until terminal or until the
// confirmation window closes. It deliberately ignores the caller's
// context: a submitted transaction is watched to its end or to the
// timeout, whichever comes first.
func (e *Executor) monitor(sig solana.Signature, network rpcpool.Network) {
	defer e.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.MaxConfirmationTime)
	defer cancel()

	for {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			e.timeOut(sig)
			return
		}
		status, err := e.checkStatus(ctx, network, sig)
		if err != nil {
			if ctx.Err() != nil {
				e.timeOut(sig)
				return
			}
			e.logger.Warn("Status poll failed",
				zap.String("signature", sig.String()),
				zap.Error(err))
			continue
		}
		if status == nil {
			continue
		}
		if status.Err != nil {
			reason := fmt.Sprintf("%v", status.Err)
			e.finalize(sig, func(r *TransactionRecord) {
				r.Status = StatusFailed
				r.FailureReason = reason
				r.Slot = status.Slot
			})
			return
		}

		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			terminal := StatusConfirmed
			if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				terminal = StatusFinalized
			}
			details := e.confirmDetails(network, sig, status)
			e.finalize(sig, func(r *TransactionRecord) {
				r.Status = terminal
				r.Slot = details.Slot
				r.FeePaid = details.Fee
				r.ComputeUnits = details.ComputeUnits
				r.Logs = details.Logs
			})
			return
		}
	}
}

// confirmDetails fetches fee, compute units, and logs for a landed
// transaction. Uses its own timeout so a slow detail fetch cannot turn
// a confirmed transaction into a timed-out record.
func (e *Executor) confirmDetails(network rpcpool.Network, sig solana.Signature, status *SignatureStatus) txDetails {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	details, err := e.fetchDetails(ctx, network, sig)
	if err != nil {
		e.logger.Warn("Detail fetch failed, keeping status-level data",
			zap.String("signature", sig.String()),
			zap.Error(err))
		return txDetails{Slot: status.Slot}
	}
	return *details
}

func (e *Executor) timeOut(sig solana.Signature) {
	e.finalize(sig, func(r *TransactionRecord) {
		r.Status = StatusTimedOut
	})
}

// finalize applies the terminal mutation exactly once.
func (e *Executor) finalize(sig solana.Signature, mutate func(*TransactionRecord)) {
	e.mu.Lock()
	entry, ok := e.records[sig]
	if !ok || entry.record.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	mutate(&entry.record)
	entry.record.TerminalAt = e.now()
	terminal := entry.record
	close(entry.done)
	e.mu.Unlock()

	e.logger.Info("Transaction terminal",
		zap.String("signature", sig.String()),
		zap.String("status", string(terminal.Status)),
		zap.Uint64("slot", terminal.Slot),
		zap.String("failure_reason", terminal.FailureReason))
	if e.onTerminal != nil {
		e.onTerminal(terminal)
	}
}

// Await blocks until the record reaches a terminal state or ctx ends. A
// chain-side failure comes back as an *ExecutionError alongside the final
// record; a timeout does not, since the transaction may still land.
func (e *Executor) Await(ctx context.Context, sig solana.Signature) (TransactionRecord, error) {
	e.mu.RLock()
	entry, ok := e.records[sig]
	e.mu.RUnlock()
	if !ok {
		return TransactionRecord{}, fmt.Errorf("unknown signature %s", sig)
	}
	select {
	case <-ctx.Done():
		return TransactionRecord{}, ctx.Err()
	case <-entry.done:
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if entry.record.Status == StatusFailed {
		return entry.record, &ExecutionError{Signature: sig, Reason: entry.record.FailureReason}
	}
	return entry.record, nil
}

// Record returns a copy of the record for a signature.
func (e *Executor) Record(sig solana.Signature) (TransactionRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.records[sig]
	if !ok {
		return TransactionRecord{}, false
	}
	return entry.record, true
}

// Records returns copies of all records ordered by submission time.
func (e *Executor) Records() []TransactionRecord {
	e.mu.RLock()
	out := make([]TransactionRecord, 0, len(e.records))
	for _, entry := range e.records {
		out = append(out, entry.record)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Close waits for every in-flight monitor to reach a terminal state.
func (e *Executor) Close() {
	e.wg.Wait()
}
