// internal/executor/executor_test.go
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-tradecore/internal/feed"
	"github.com/rovshanmuradov/solana-tradecore/internal/guard"
	"github.com/rovshanmuradov/solana-tradecore/internal/rpcpool"
)

type stubSigner struct {
	key    solana.PublicKey
	signed atomic.Bool
}

func (s *stubSigner) PublicKey() solana.PublicKey { return s.key }
func (s *stubSigner) SignTransaction(tx *solana.Transaction) error {
	s.signed.Store(true)
	return nil
}

func newTestExecutor(cfg Config) *Executor {
	cfg.applyDefaults()
	e := &Executor{
		cfg:     cfg,
		logger:  zap.NewNop(),
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
	e.blockhash = func(ctx context.Context, network rpcpool.Network) (solana.Hash, error) {
		return solana.Hash{}, nil
	}
	e.submitTx = func(ctx context.Context, network rpcpool.Network, tx *solana.Transaction) (solana.Signature, error) {
		return solana.Signature{1}, nil
	}
	e.checkStatus = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*SignatureStatus, error) {
		return nil, nil
	}
	e.fetchDetails = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*txDetails, error) {
		return &txDetails{}, nil
	}
	return e
}

func testTrade() (guard.TradeRequest, guard.Quote) {
	snapshot := &feed.PoolSnapshot{
		PoolAddress:  solana.NewWallet().PublicKey(),
		Variant:      feed.VariantA,
		BaseMint:     solana.NewWallet().PublicKey(),
		QuoteMint:    solana.NewWallet().PublicKey(),
		BaseReserve:  40_000_000_000_000,
		QuoteReserve: 1_000_000_000_000,
	}
	req := guard.TradeRequest{
		TokenID:     snapshot.BaseMint.String(),
		PoolAddress: snapshot.PoolAddress,
		Variant:     feed.VariantA,
		Network:     rpcpool.NetworkDevnet,
		WalletRef:   "main",
		AmountIn:    50_000_000,
	}
	quote := guard.Quote{
		Price:       0.025,
		AmountIn:    50_000_000,
		ExpectedOut: 1_990_000_000,
		MinOut:      1_970_000_000,
		ImpactBps:   26,
		Snapshot:    snapshot,
	}
	return req, quote
}

func fastConfig() Config {
	return Config{
		PollInterval:        time.Millisecond,
		MaxConfirmationTime: 200 * time.Millisecond,
		PresignDelay:        -1,
	}
}

func TestExecuteConfirmsTransaction(t *testing.T) {
	e := newTestExecutor(fastConfig())
	var polls atomic.Int32
	e.checkStatus = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*SignatureStatus, error) {
		if polls.Add(1) < 3 {
			return nil, nil // not yet visible
		}
		return &SignatureStatus{Slot: 9000, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, nil
	}
	e.fetchDetails = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*txDetails, error) {
		return &txDetails{Slot: 9000, Fee: 5_000, ComputeUnits: 120_000, Logs: []string{"Program log: ok"}}, nil
	}

	req, quote := testTrade()
	signer := &stubSigner{key: solana.NewWallet().PublicKey()}
	record, err := e.Execute(context.Background(), req, quote, signer)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, record.Status)
	assert.True(t, signer.signed.Load())
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.SubmittedAt.IsZero())

	final, err := e.Await(context.Background(), record.Signature)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, final.Status)
	assert.Equal(t, uint64(9000), final.Slot)
	assert.Equal(t, uint64(5_000), final.FeePaid)
	assert.Equal(t, uint64(120_000), final.ComputeUnits)
	assert.Equal(t, []string{"Program log: ok"}, final.Logs)
	assert.False(t, final.TerminalAt.IsZero())
	e.Close()
}

func TestMonitorTimesOutWithoutFailing(t *testing.T) {
	// The signature never shows up. The record must end as TimedOut,
	// not Failed: the transaction may still land later.
	e := newTestExecutor(fastConfig())

	req, quote := testTrade()
	record, err := e.Execute(context.Background(), req, quote, &stubSigner{key: solana.NewWallet().PublicKey()})
	require.NoError(t, err)

	final, err := e.Await(context.Background(), record.Signature)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, final.Status)
	assert.NotEqual(t, StatusFailed, final.Status)
	assert.Empty(t, final.FailureReason)
	assert.False(t, final.TerminalAt.IsZero())
	e.Close()
}

func TestMonitorPreservesChainErrorVerbatim(t *testing.T) {
	e := newTestExecutor(fastConfig())
	chainErr := map[string]interface{}{"InstructionError": []interface{}{0, "Custom(6001)"}}
	e.checkStatus = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*SignatureStatus, error) {
		return &SignatureStatus{Slot: 42, Err: chainErr}, nil
	}

	req, quote := testTrade()
	record, err := e.Execute(context.Background(), req, quote, &stubSigner{key: solana.NewWallet().PublicKey()})
	require.NoError(t, err)

	final, err := e.Await(context.Background(), record.Signature)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, record.Signature, execErr.Signature)
	assert.Contains(t, execErr.Reason, "Custom(6001)")
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.FailureReason, "InstructionError")
	assert.Contains(t, final.FailureReason, "Custom(6001)")
	assert.Equal(t, uint64(42), final.Slot)
	e.Close()
}

func TestExecuteRejectsTamperedQuote(t *testing.T) {
	e := newTestExecutor(fastConfig())
	submitted := false
	e.submitTx = func(ctx context.Context, network rpcpool.Network, tx *solana.Transaction) (solana.Signature, error) {
		submitted = true
		return solana.Signature{1}, nil
	}

	req, quote := testTrade()
	req.AmountIn = quote.AmountIn + 1
	_, err := e.Execute(context.Background(), req, quote, &stubSigner{key: solana.NewWallet().PublicKey()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
	assert.False(t, submitted, "a tampered quote must never reach submission")
}

func TestPresignDelayAppliesToMainnetOnly(t *testing.T) {
	cfg := fastConfig()
	cfg.PresignDelay = 2 * time.Second
	e := newTestExecutor(cfg)

	var mu sync.Mutex
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		if d == cfg.PollInterval {
			return context.DeadlineExceeded // stop the monitor immediately
		}
		return nil
	}

	req, quote := testTrade()
	req.Network = rpcpool.NetworkMainnet
	_, err := e.Execute(context.Background(), req, quote, &stubSigner{key: solana.NewWallet().PublicKey()})
	require.NoError(t, err)
	e.Close()

	mu.Lock()
	assert.Contains(t, slept, 2*time.Second)
	slept = nil
	mu.Unlock()

	req.Network = rpcpool.NetworkDevnet
	e.submitTx = func(ctx context.Context, network rpcpool.Network, tx *solana.Transaction) (solana.Signature, error) {
		return solana.Signature{2}, nil
	}
	_, err = e.Execute(context.Background(), req, quote, &stubSigner{key: solana.NewWallet().PublicKey()})
	require.NoError(t, err)
	e.Close()

	mu.Lock()
	assert.NotContains(t, slept, 2*time.Second)
	mu.Unlock()
}

func TestConcurrentMonitorsAreIndependent(t *testing.T) {
	// One signature confirms quickly, the other stays invisible until
	// the window closes. Neither blocks the other.
	e := newTestExecutor(fastConfig())
	fast := solana.Signature{1}
	stuck := solana.Signature{2}
	next := fast
	e.submitTx = func(ctx context.Context, network rpcpool.Network, tx *solana.Transaction) (solana.Signature, error) {
		sig := next
		next = stuck
		return sig, nil
	}
	e.checkStatus = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*SignatureStatus, error) {
		if sig == fast {
			return &SignatureStatus{Slot: 1, ConfirmationStatus: rpc.ConfirmationStatusFinalized}, nil
		}
		return nil, nil
	}

	req, quote := testTrade()
	signer := &stubSigner{key: solana.NewWallet().PublicKey()}
	_, err := e.Execute(context.Background(), req, quote, signer)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), req, quote, signer)
	require.NoError(t, err)

	fastFinal, err := e.Await(context.Background(), fast)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, fastFinal.Status)

	// The stuck one is still pending while the fast one is terminal.
	current, ok := e.Record(stuck)
	require.True(t, ok)
	if !current.Status.Terminal() {
		assert.Equal(t, StatusPending, current.Status)
	}

	stuckFinal, err := e.Await(context.Background(), stuck)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, stuckFinal.Status)
	e.Close()
}

func TestTerminalRecordIsImmutable(t *testing.T) {
	e := newTestExecutor(fastConfig())
	e.checkStatus = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*SignatureStatus, error) {
		return &SignatureStatus{Slot: 7, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, nil
	}
	e.fetchDetails = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*txDetails, error) {
		return &txDetails{Slot: 7}, nil
	}

	req, quote := testTrade()
	record, err := e.Execute(context.Background(), req, quote, &stubSigner{key: solana.NewWallet().PublicKey()})
	require.NoError(t, err)
	final, err := e.Await(context.Background(), record.Signature)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, final.Status)

	// A late timeout attempt must not overwrite the terminal state.
	e.timeOut(record.Signature)
	again, ok := e.Record(record.Signature)
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, again.Status)
	assert.Equal(t, final.TerminalAt, again.TerminalAt)
	e.Close()
}

func TestOnTerminalHookFires(t *testing.T) {
	e := newTestExecutor(fastConfig())
	e.checkStatus = func(ctx context.Context, network rpcpool.Network, sig solana.Signature) (*SignatureStatus, error) {
		return &SignatureStatus{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, nil
	}
	got := make(chan TransactionRecord, 1)
	e.OnTerminal(func(r TransactionRecord) { got <- r })

	req, quote := testTrade()
	record, err := e.Execute(context.Background(), req, quote, &stubSigner{key: solana.NewWallet().PublicKey()})
	require.NoError(t, err)

	select {
	case r := <-got:
		assert.Equal(t, record.Signature, r.Signature)
		assert.Equal(t, StatusConfirmed, r.Status)
	case <-time.After(time.Second):
		t.Fatal("terminal hook did not fire")
	}
	e.Close()
}
