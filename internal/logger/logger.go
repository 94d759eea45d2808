// internal/logger/logger.go
package logger

import (
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls output targets and rotation.
type Config struct {
	Level      string
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Console    bool
}

// DefaultConfig returns the production setup: info level, console on,
// rotated JSON file.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		LogFile:    "tradecore.log",
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
		Console:    true,
	}
}

// Logger wraps zap.Logger with trading-specific context helpers.
type Logger struct {
	*zap.Logger
	config *Config
}

// New builds a logger that tees a console encoder and a rotated JSON
// file encoder.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var cores []zapcore.Core
	if cfg.Console {
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), level))
	}
	if cfg.LogFile != "" {
		logRotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(logRotator), level))
	}
	if len(cores) == 0 {
		return &Logger{Logger: zap.NewNop(), config: cfg}, nil
	}

	return &Logger{
		Logger: zap.New(zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		),
		config: cfg,
	}, nil
}

// WithTrade attaches a per-trade correlation id and the request basics.
func (l *Logger) WithTrade(tokenID string, amountIn uint64) *zap.Logger {
	return l.With(
		zap.String("correlation_id", uuid.New().String()),
		zap.String("token", tokenID),
		zap.Uint64("amount_in", amountIn),
		zap.Time("start_time", time.Now().UTC()),
	)
}

// WithSignature attaches transaction context to the logs.
func (l *Logger) WithSignature(signature string) *zap.Logger {
	return l.With(
		zap.String("signature", signature),
		zap.Time("observed_at", time.Now().UTC()),
	)
}

// WithComponent tags a subsystem.
func (l *Logger) WithComponent(component string) *zap.Logger {
	return l.With(zap.String("component", component))
}

// Sync flushes buffered entries, ignoring the stdout sync errors some
// platforms return.
func (l *Logger) Sync() error {
	err := l.Logger.Sync()
	if err != nil && (err.Error() == "sync /dev/stdout: invalid argument" ||
		err.Error() == "sync /dev/stderr: inappropriate ioctl for device") {
		return nil
	}
	return err
}
