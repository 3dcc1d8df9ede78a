package infra

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"solscope/internal/domain"
)

const (
	// DefaultUserAgent is sent on logo downloads; some CDNs reject empty agents
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// PumpFunProgramID is the on-chain program whose logs are monitored
	PumpFunProgramID = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

	// EnvPrefix prefixes every environment override (SOLSCOPE_BIRDEYE_API_KEY, ...)
	EnvPrefix = "SOLSCOPE_"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Birdeye struct {
		BaseURL         string `yaml:"base_url" env:"BIRDEYE_BASE_URL"`
		APIKey          string `yaml:"api_key" env:"BIRDEYE_API_KEY"`
		TimeoutSec      int    `yaml:"timeout_sec"`
		SolPricePollSec int    `yaml:"sol_price_poll_sec"` // 0 disables SOL/USD tracking
		Retry           struct {
			MaxRetries        int     `yaml:"max_retries"`
			BaseDelayMS       int     `yaml:"base_delay_ms"`
			MaxDelayMS        int     `yaml:"max_delay_ms"`
			BackoffMultiplier float64 `yaml:"backoff_multiplier"`
		} `yaml:"retry"`
	} `yaml:"birdeye"`

	Solana struct {
		RPCURL    string `yaml:"rpc_url" env:"SOLANA_RPC_URL"`
		WSURL     string `yaml:"ws_url" env:"SOLANA_WS_URL"`
		ProgramID string `yaml:"program_id"`
	} `yaml:"solana"`

	Monitor struct {
		AutoStart            bool `yaml:"auto_start" env:"MONITOR_AUTO_START"`
		MaxHistory           int  `yaml:"max_history"`
		MaxConcurrentFetches int  `yaml:"max_concurrent_fetches"`
		FetchTimeoutSec      int  `yaml:"fetch_timeout_sec"`
		Alerts               struct {
			Enabled              bool            `yaml:"enabled"`
			VolumeThreshold      decimal.Decimal `yaml:"volume_threshold"`
			PriceChangeThreshold decimal.Decimal `yaml:"price_change_threshold"`
		} `yaml:"alerts"`
	} `yaml:"monitor"`

	Storage struct {
		Enabled        bool   `yaml:"enabled"`
		Path           string `yaml:"path" env:"STORAGE_PATH"`
		WarmStart      bool   `yaml:"warm_start"`
		RetentionHours int    `yaml:"retention_hours"`
	} `yaml:"storage"`

	Redis struct {
		Enabled       bool   `yaml:"enabled" env:"REDIS_ENABLED"`
		Addr          string `yaml:"addr" env:"REDIS_ADDR"`
		Password      string `yaml:"password" env:"REDIS_PASSWORD"`
		DB            int    `yaml:"db"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"redis"`

	Server struct {
		Addr      string `yaml:"addr" env:"SERVER_ADDR"`
		PprofAddr string `yaml:"pprof_addr"`
	} `yaml:"server"`

	Logos struct {
		Dir  string `yaml:"dir"`
		Size int    `yaml:"size"`
	} `yaml:"logos"`

	Logging struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from SOLSCOPE_* variables and validates the result.
func ApplyEnv(cfg *Config) error {
	// 보안 우선 - 환경 변수 오버라이드 지원
	if err := overrideWithEnv(cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration usable without a file
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "solscope"
	cfg.Birdeye.BaseURL = "https://public-api.birdeye.so"
	cfg.Birdeye.TimeoutSec = 10
	cfg.Birdeye.SolPricePollSec = 60
	cfg.Birdeye.Retry.MaxRetries = 3
	cfg.Birdeye.Retry.BaseDelayMS = 1000
	cfg.Birdeye.Retry.MaxDelayMS = 30000
	cfg.Birdeye.Retry.BackoffMultiplier = 2
	cfg.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	cfg.Solana.WSURL = "wss://api.mainnet-beta.solana.com"
	cfg.Solana.ProgramID = PumpFunProgramID
	cfg.Monitor.MaxHistory = 1000
	cfg.Monitor.MaxConcurrentFetches = 16
	cfg.Monitor.FetchTimeoutSec = 15
	cfg.Monitor.Alerts.Enabled = true
	cfg.Monitor.Alerts.VolumeThreshold = decimal.NewFromInt(2)
	cfg.Monitor.Alerts.PriceChangeThreshold = decimal.NewFromFloat(0.2)
	cfg.Storage.WarmStart = true
	cfg.Storage.RetentionHours = 24
	cfg.Redis.ChannelPrefix = "solscope"
	cfg.Server.Addr = ":8080"
	cfg.Logos.Dir = "assets/logos"
	cfg.Logos.Size = 64
	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/app.log"
	return cfg
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if err := validateURL("birdeye.base_url", c.Birdeye.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("solana.rpc_url", c.Solana.RPCURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("solana.ws_url", c.Solana.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Solana.ProgramID == "" {
		return &domain.ConfigError{Field: "solana.program_id", Err: errors.New("required")}
	}
	if c.Birdeye.Retry.MaxRetries < 0 {
		return &domain.ConfigError{Field: "birdeye.retry.max_retries", Err: errors.New("must not be negative")}
	}
	if c.Birdeye.Retry.BackoffMultiplier < 1 {
		return &domain.ConfigError{Field: "birdeye.retry.backoff_multiplier", Err: errors.New("must be >= 1")}
	}
	if c.Monitor.MaxHistory <= 0 {
		return &domain.ConfigError{Field: "monitor.max_history", Err: errors.New("must be positive")}
	}
	if c.Monitor.MaxConcurrentFetches <= 0 {
		return &domain.ConfigError{Field: "monitor.max_concurrent_fetches", Err: errors.New("must be positive")}
	}
	if c.Monitor.Alerts.VolumeThreshold.IsNegative() || c.Monitor.Alerts.PriceChangeThreshold.IsNegative() {
		return &domain.ConfigError{Field: "monitor.alerts", Err: errors.New("thresholds must not be negative")}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return &domain.ConfigError{Field: "redis.addr", Err: errors.New("required when redis is enabled")}
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: errors.New("required when storage is enabled")}
	}
	return nil
}

// BirdeyeTimeout returns the HTTP timeout for market-data requests
func (c *Config) BirdeyeTimeout() time.Duration {
	return time.Duration(c.Birdeye.TimeoutSec) * time.Second
}

// FetchTimeout returns the per-transaction ledger fetch timeout
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Monitor.FetchTimeoutSec) * time.Second
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf("invalid url %q", raw)}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return &domain.ConfigError{Field: field, Err: fmt.Errorf("scheme must be one of %v", schemes)}
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return &domain.ConfigError{Field: "env", Err: err}
	}
	return nil
}
