// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-tradecore/internal/config"
	"github.com/rovshanmuradov/solana-tradecore/internal/executor"
	"github.com/rovshanmuradov/solana-tradecore/internal/feed"
	"github.com/rovshanmuradov/solana-tradecore/internal/guard"
	"github.com/rovshanmuradov/solana-tradecore/internal/logger"
	"github.com/rovshanmuradov/solana-tradecore/internal/rpcpool"
	"github.com/rovshanmuradov/solana-tradecore/internal/storage"
	"github.com/rovshanmuradov/solana-tradecore/internal/storage/models"
	"github.com/rovshanmuradov/solana-tradecore/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-tradecore/internal/wallet"
)

// Engine wires the registry, feeds, gate, and executor into the
// caller-facing trading surface.
type Engine struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *rpcpool.Registry
	pool     *rpcpool.Pool
	feeds    map[rpcpool.Network]*feed.Feed
	gate     *guard.Gate
	exec     *executor.Executor
	keyring  *wallet.Keyring
	store    storage.Storage

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a fully wired engine from loaded configuration. Feeds do
// not connect until Start.
func New(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	zl := log.Logger

	registry, err := rpcpool.NewRegistry(endpointConfigs(cfg), rpcpool.RegistryConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		BreakerCooldown:  time.Duration(cfg.Breaker.CooldownS) * time.Second,
	}, zl)
	if err != nil {
		return nil, fmt.Errorf("build endpoint registry: %w", err)
	}

	pool := rpcpool.NewPool(registry, rpcpool.PoolConfig{
		RetryBudget: cfg.Breaker.RetryBudget,
	}, zl)

	e := &Engine{
		cfg:      cfg,
		log:      log,
		registry: registry,
		pool:     pool,
		feeds:    make(map[rpcpool.Network]*feed.Feed),
		keyring:  wallet.NewKeyring(nil),
		store:    storage.NoOp{},
	}

	if cfg.WalletsFile != "" {
		keyring, err := wallet.LoadKeyring(cfg.WalletsFile)
		if err != nil {
			return nil, fmt.Errorf("load wallets: %w", err)
		}
		e.keyring = keyring
	}

	if cfg.PostgresURL != "" {
		store, err := postgres.NewStorage(cfg.PostgresURL, zl)
		if err != nil {
			return nil, fmt.Errorf("connect storage: %w", err)
		}
		if err := store.RunMigrations(); err != nil {
			return nil, fmt.Errorf("migrate storage: %w", err)
		}
		e.store = store
	}

	for network, targets := range poolTargets(cfg) {
		e.feeds[network] = feed.NewFeed(feed.Config{
			Network:           network,
			Targets:           targets,
			ReconnectDelay:    time.Duration(cfg.Feed.ReconnectDelayMs) * time.Millisecond,
			MaxReconnectDelay: time.Duration(cfg.Feed.MaxReconnectDelayMs) * time.Millisecond,
			CacheSize:         cfg.Feed.CacheSize,
			RetentionTTL:      time.Duration(cfg.Feed.RetentionS) * time.Second,
			UpdateBuffer:      cfg.Feed.UpdateBuffer,
		}, registry, zl)
	}

	e.gate = guard.NewGate(guardConfig(cfg), pool, e, zl)

	e.exec = executor.NewExecutor(executor.Config{
		PollInterval:        time.Duration(cfg.Executor.PollIntervalMs) * time.Millisecond,
		MaxConfirmationTime: time.Duration(cfg.Executor.MaxConfirmationTimeS) * time.Second,
		PresignDelay:        time.Duration(cfg.Executor.PresignDelayMs) * time.Millisecond,
		SkipPreflight:       cfg.Executor.SkipPreflight,
		ComputeUnitLimit:    uint32(cfg.Executor.ComputeUnitLimit),
		ComputeUnitPrice:    uint64(cfg.Executor.ComputeUnitPrice),
	}, pool, zl)
	e.exec.OnTerminal(e.persistExecution)

	return e, nil
}

// Start launches one feed task per configured network. It returns
// immediately; feeds reconnect on their own until Close.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	e.group = group

	for network, f := range e.feeds {
		f := f
		network := network
		group.Go(func() error {
			err := f.Run(ctx)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("feed %s: %w", network, err)
			}
			return nil
		})
	}
	return nil
}

// Close stops the feeds and waits for every in-flight confirmation
// monitor before releasing storage.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	var err error
	if e.group != nil {
		err = e.group.Wait()
	}
	e.exec.Close()
	if closeErr := e.store.Close(); err == nil {
		err = closeErr
	}
	return err
}

// SubmitTrade validates the request and, if approved, executes it with
// the exact validated quote. Rejections come back as typed errors and
// are never retried here.
func (e *Engine) SubmitTrade(ctx context.Context, req guard.TradeRequest) (*executor.TransactionRecord, error) {
	w, err := e.keyring.Resolve(req.WalletRef)
	if err != nil {
		return nil, err
	}
	req.Payer = w.PublicKey()

	tradeLog := e.log.WithTrade(req.TokenID, req.AmountIn)
	result, err := e.gate.Validate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if !result.Approved {
		e.persistRejection(req, result)
		return nil, result.Rejection
	}

	record, err := e.exec.Execute(ctx, req, result.Quote, w)
	if err != nil {
		return nil, err
	}
	tradeLog.Info("Trade submitted",
		zap.String("signature", record.Signature.String()),
		zap.Uint64("min_out", record.MinOut))
	return record, nil
}

// AwaitTrade blocks until the submitted transaction reaches a terminal
// state.
func (e *Engine) AwaitTrade(ctx context.Context, sig solana.Signature) (executor.TransactionRecord, error) {
	return e.exec.Await(ctx, sig)
}

// GetPrice returns the newest cached stream price for a token. Two
// calls without an intervening update return the identical point.
func (e *Engine) GetPrice(tokenID string) (feed.PricePoint, bool) {
	return e.LatestPrice(tokenID)
}

// LatestPrice implements guard.PriceReader across all network feeds.
func (e *Engine) LatestPrice(tokenID string) (feed.PricePoint, bool) {
	for _, f := range e.feeds {
		if point, ok := f.LatestPrice(tokenID); ok {
			return point, true
		}
	}
	return feed.PricePoint{}, false
}

// EndpointHealthSnapshot reports every endpoint's health, breaker state,
// and latency.
func (e *Engine) EndpointHealthSnapshot() []rpcpool.EndpointStatus {
	return e.registry.Snapshot()
}

func (e *Engine) persistExecution(record executor.TransactionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	terminalAt := record.TerminalAt
	exec := &models.Execution{
		Signature:     record.Signature.String(),
		WalletRef:     record.WalletRef,
		Network:       string(record.Network),
		TokenID:       record.TokenID,
		AmountIn:      record.AmountIn,
		ExpectedOut:   record.ExpectedOut,
		MinOut:        record.MinOut,
		Status:        string(record.Status),
		FailureReason: record.FailureReason,
		Slot:          record.Slot,
		FeePaid:       record.FeePaid,
		ComputeUnits:  record.ComputeUnits,
		SubmittedAt:   record.SubmittedAt,
		TerminalAt:    &terminalAt,
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		e.log.Warn("Failed to persist execution",
			zap.String("signature", exec.Signature),
			zap.Error(err))
	}
}

func (e *Engine) persistRejection(req guard.TradeRequest, result guard.TradeValidationResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rejection := &models.Rejection{
		TokenID:    req.TokenID,
		Network:    string(req.Network),
		WalletRef:  req.WalletRef,
		AmountIn:   req.AmountIn,
		Code:       rejectionCode(result.Rejection),
		Detail:     result.Rejection.Error(),
		FetchAgeMs: result.FetchAge.Milliseconds(),
	}
	if err := e.store.SaveRejection(ctx, rejection); err != nil {
		e.log.Warn("Failed to persist rejection",
			zap.String("token", req.TokenID),
			zap.Error(err))
	}
}
