// cmd/tradecore/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-tradecore/internal/config"
	"github.com/rovshanmuradov/solana-tradecore/internal/engine"
	"github.com/rovshanmuradov/solana-tradecore/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	mode := flag.String("mode", "run", "run | health")
	flag.Parse()

	if err := realMain(*configPath, *mode); err != nil {
		fmt.Fprintln(os.Stderr, "tradecore:", err)
		os.Exit(1)
	}
}

func realMain(configPath, mode string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		LogFile:    cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   true,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	e, err := engine.New(cfg, log)
	if err != nil {
		return err
	}

	switch mode {
	case "health":
		return printHealth(e)
	case "run":
		return run(e, log)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func run(e *engine.Engine, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		return err
	}
	log.Info("Trading core started")

	<-ctx.Done()
	log.Info("Shutting down")
	if err := e.Close(); err != nil {
		log.Warn("Shutdown finished with errors", zap.Error(err))
		return err
	}
	return nil
}

func printHealth(e *engine.Engine) error {
	statuses := e.EndpointHealthSnapshot()
	for _, s := range statuses {
		fmt.Printf("%-12s %-10s %-8s health=%-9s breaker=%-9s failures=%d avg_latency=%s\n",
			s.ID, s.Provider, s.Network, s.Health, s.BreakerState, s.ConsecutiveFailures, s.AvgLatency)
	}
	if len(statuses) == 0 {
		return fmt.Errorf("no endpoints configured")
	}
	return nil
}
