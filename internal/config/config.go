// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// EndpointEntry describes one RPC provider endpoint. Credentials are
// never stored here: CredentialEnv names the environment variable that
// holds the API key.
type EndpointEntry struct {
	ID            string `mapstructure:"id"`
	Provider      string `mapstructure:"provider"`
	Network       string `mapstructure:"network"`
	URL           string `mapstructure:"url"`
	WSURL         string `mapstructure:"ws_url"`
	AuthScheme    string `mapstructure:"auth_scheme"`
	HeaderName    string `mapstructure:"header_name"`
	CredentialEnv string `mapstructure:"credential_env"`
	Priority      int    `mapstructure:"priority"`
}

// PoolTargetEntry is one AMM pool to subscribe to.
type PoolTargetEntry struct {
	Pool    string `mapstructure:"pool"`
	Variant string `mapstructure:"variant"`
	Network string `mapstructure:"network"`
}

type SafetyConfig struct {
	MaxPriceAgeMs         int     `mapstructure:"max_price_age_ms"`
	PriceTolerancePercent float64 `mapstructure:"price_tolerance_percent"`
	MaxSlippageBps        int     `mapstructure:"max_slippage_bps"`
	MainnetTradeCapSOL    float64 `mapstructure:"mainnet_trade_cap_sol"`
	DevnetTradeCapSOL     float64 `mapstructure:"devnet_trade_cap_sol"`
	FeeSafetyMarginSOL    float64 `mapstructure:"fee_safety_margin_sol"`
	FreshDataTimeoutMs    int     `mapstructure:"fresh_data_timeout_ms"`
}

type ExecutorConfig struct {
	PollIntervalMs       int  `mapstructure:"poll_interval_ms"`
	MaxConfirmationTimeS int  `mapstructure:"max_confirmation_time_s"`
	PresignDelayMs       int  `mapstructure:"presign_delay_ms"`
	SkipPreflight        bool `mapstructure:"skip_preflight"`
	ComputeUnitLimit     int  `mapstructure:"compute_unit_limit"`
	ComputeUnitPrice     int  `mapstructure:"compute_unit_price"`
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownS        int `mapstructure:"cooldown_s"`
	RetryBudget      int `mapstructure:"retry_budget"`
}

type FeedConfig struct {
	RetentionS          int `mapstructure:"retention_s"`
	CacheSize           int `mapstructure:"cache_size"`
	ReconnectDelayMs    int `mapstructure:"reconnect_delay_ms"`
	MaxReconnectDelayMs int `mapstructure:"max_reconnect_delay_ms"`
	UpdateBuffer        int `mapstructure:"update_buffer"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Console    bool   `mapstructure:"console"`
}

type Config struct {
	Endpoints   []EndpointEntry   `mapstructure:"endpoints"`
	PoolTargets []PoolTargetEntry `mapstructure:"pool_targets"`
	WalletsFile string            `mapstructure:"wallets_file"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Feed        FeedConfig        `mapstructure:"feed"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	PostgresURL string            `mapstructure:"postgres_url"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"safety.max_price_age_ms":          50,
		"safety.price_tolerance_percent":   0.5,
		"safety.max_slippage_bps":          100,
		"safety.mainnet_trade_cap_sol":     0.1,
		"safety.devnet_trade_cap_sol":      1.0,
		"safety.fee_safety_margin_sol":     0.01,
		"safety.fresh_data_timeout_ms":     1000,
		"executor.poll_interval_ms":        500,
		"executor.max_confirmation_time_s": 60,
		"executor.presign_delay_ms":        2000,
		"executor.skip_preflight":          true,
		"executor.compute_unit_limit":      200_000,
		"executor.compute_unit_price":      5_000,
		"breaker.failure_threshold":        5,
		"breaker.cooldown_s":               120,
		"breaker.retry_budget":             3,
		"feed.retention_s":                 30,
		"feed.cache_size":                  1024,
		"feed.reconnect_delay_ms":          1000,
		"feed.max_reconnect_delay_ms":      30_000,
		"feed.update_buffer":               256,
		"logging.level":                    "info",
		"logging.max_size_mb":              100,
		"logging.max_backups":              3,
		"logging.max_age_days":             28,
		"logging.console":                  true,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if pg := v.GetString("POSTGRES_URL"); pg != "" {
		cfg.PostgresURL = pg
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.Endpoints) == 0 {
		return errors.New("endpoints list is empty")
	}
	for _, ep := range cfg.Endpoints {
		if ep.ID == "" {
			return errors.New("endpoint is missing an id")
		}
		if ep.Network != "mainnet" && ep.Network != "devnet" {
			return fmt.Errorf("endpoint %s: unknown network %q", ep.ID, ep.Network)
		}
		if err := validateURLWithCache(ep.URL, "http"); err != nil {
			return fmt.Errorf("endpoint %s: invalid RPC URL", ep.ID)
		}
		if ep.WSURL != "" {
			if err := validateURLWithCache(ep.WSURL, "ws"); err != nil {
				return fmt.Errorf("endpoint %s: invalid WebSocket URL", ep.ID)
			}
		}
		switch ep.AuthScheme {
		case "", "query_param", "header":
		default:
			return fmt.Errorf("endpoint %s: unknown auth scheme %q", ep.ID, ep.AuthScheme)
		}
		if ep.Priority < 0 {
			return fmt.Errorf("endpoint %s: negative priority", ep.ID)
		}
	}

	for i, target := range cfg.PoolTargets {
		if target.Pool == "" {
			return fmt.Errorf("pool target %d: missing pool address", i)
		}
		if target.Variant != "A" && target.Variant != "B" {
			return fmt.Errorf("pool target %d: unknown variant %q", i, target.Variant)
		}
		if target.Network != "mainnet" && target.Network != "devnet" {
			return fmt.Errorf("pool target %d: unknown network %q", i, target.Network)
		}
	}

	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.Safety.MaxPriceAgeMs <= 0 {
		return errors.New("invalid safety.max_price_age_ms")
	}
	if cfg.Safety.PriceTolerancePercent <= 0 {
		return errors.New("invalid safety.price_tolerance_percent")
	}
	if cfg.Safety.MaxSlippageBps <= 0 || cfg.Safety.MaxSlippageBps >= 10_000 {
		return errors.New("invalid safety.max_slippage_bps")
	}
	if cfg.Safety.MainnetTradeCapSOL <= 0 || cfg.Safety.DevnetTradeCapSOL <= 0 {
		return errors.New("invalid trade caps")
	}
	if cfg.Safety.FreshDataTimeoutMs <= 0 {
		return errors.New("invalid safety.fresh_data_timeout_ms")
	}
	if cfg.Executor.PollIntervalMs <= 0 {
		return errors.New("invalid executor.poll_interval_ms")
	}
	if cfg.Executor.MaxConfirmationTimeS <= 0 {
		return errors.New("invalid executor.max_confirmation_time_s")
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		return errors.New("invalid breaker.failure_threshold")
	}
	if cfg.Breaker.CooldownS <= 0 {
		return errors.New("invalid breaker.cooldown_s")
	}
	if cfg.Breaker.RetryBudget <= 0 {
		return errors.New("invalid breaker.retry_budget")
	}
	if cfg.Feed.RetentionS <= 0 {
		return errors.New("invalid feed.retention_s")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}
