package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	Binance     BinanceConfig  `mapstructure:"binance"`
	Scan        ScanConfig     `mapstructure:"scan"`
	Rate        RateConfig     `mapstructure:"rate"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Redis       RedisConfig    `mapstructure:"redis"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Monitor     MonitorConfig  `mapstructure:"monitor"`
	Log         LogConfig      `mapstructure:"log"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
}

type BinanceConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// RateConfig tunes the adaptive batch scheduler.
type RateConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	MinBatchDelay  time.Duration `mapstructure:"min_batch_delay"`
	MaxBatchDelay  time.Duration `mapstructure:"max_batch_delay"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
	MaxBackoffExp  int           `mapstructure:"max_backoff_exp"`
	RampThreshold  int           `mapstructure:"ramp_threshold"`
	ShrinkFactor   float64       `mapstructure:"shrink_factor"`
	DelayGrowth    float64       `mapstructure:"delay_growth"`
	DelayDecay     float64       `mapstructure:"delay_decay"`
	JitterRatio    float64       `mapstructure:"jitter_ratio"`
}

// DefaultRateConfig returns the scheduler defaults.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		Concurrency:    4,
		MaxConcurrency: 8,
		BatchDelay:     400 * time.Millisecond,
		MinBatchDelay:  150 * time.Millisecond,
		MaxBatchDelay:  30 * time.Second,
		BackoffBase:    500 * time.Millisecond,
		BackoffCap:     8 * time.Second,
		MaxBackoffExp:  5,
		RampThreshold:  3,
		ShrinkFactor:   0.6,
		DelayGrowth:    1.6,
		DelayDecay:     0.85,
		JitterRatio:    0.25,
	}
}

type TelegramConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Token       string        `mapstructure:"token"`
	ChatID      string        `mapstructure:"chat_id"`
	APIEndpoint string        `mapstructure:"api_endpoint"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryStep   time.Duration `mapstructure:"retry_step"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Burst       int           `mapstructure:"burst"`
	DedupWindow time.Duration `mapstructure:"dedup_window"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MonitorConfig struct {
	HistoryCapacity int `mapstructure:"history_capacity"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// SetDefaults registers default values for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("binance.rest.base_url", "https://fapi.binance.com")
	v.SetDefault("binance.rest.timeout", 10*time.Second)
	v.SetDefault("binance.ws.url", "wss://fstream.binance.com")
	v.SetDefault("binance.ws.reconnect_delay", 3*time.Second)

	scan := DefaultScanConfig()
	v.SetDefault("scan.interval", scan.Interval)
	v.SetDefault("scan.ema_short", scan.EMAShort)
	v.SetDefault("scan.ema_long", scan.EMALong)
	v.SetDefault("scan.scan_type", scan.ScanType)
	v.SetDefault("scan.cooldown", scan.Cooldown)
	v.SetDefault("scan.candle_margin", scan.CandleMargin)
	v.SetDefault("scan.every", scan.Every)

	rate := DefaultRateConfig()
	v.SetDefault("rate.concurrency", rate.Concurrency)
	v.SetDefault("rate.max_concurrency", rate.MaxConcurrency)
	v.SetDefault("rate.batch_delay", rate.BatchDelay)
	v.SetDefault("rate.min_batch_delay", rate.MinBatchDelay)
	v.SetDefault("rate.max_batch_delay", rate.MaxBatchDelay)
	v.SetDefault("rate.backoff_base", rate.BackoffBase)
	v.SetDefault("rate.backoff_cap", rate.BackoffCap)
	v.SetDefault("rate.max_backoff_exp", rate.MaxBackoffExp)
	v.SetDefault("rate.ramp_threshold", rate.RampThreshold)
	v.SetDefault("rate.shrink_factor", rate.ShrinkFactor)
	v.SetDefault("rate.delay_growth", rate.DelayGrowth)
	v.SetDefault("rate.delay_decay", rate.DelayDecay)
	v.SetDefault("rate.jitter_ratio", rate.JitterRatio)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_attempts", 3)
	v.SetDefault("telegram.retry_step", 300*time.Millisecond)
	v.SetDefault("telegram.rate_per_sec", 1.0)
	v.SetDefault("telegram.burst", 3)
	v.SetDefault("telegram.dedup_window", 30*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "crossscanner:")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("monitor.history_capacity", 500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
// An empty path uses the default lookup next to the binary.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")

		ex, _ := os.Executable()
		if strings.Contains(ex, "go-build") {
			pwd, _ := os.Getwd()
			v.AddConfigPath(filepath.Join(pwd, "../../config"))
			v.AddConfigPath(filepath.Join(pwd, "config"))
		} else {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	}

	// Support environment variables with dot notation (e.g., BINANCE_REST_BASE_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Log.Environment == "" {
		cfg.Log.Environment = cfg.Environment
	}

	cfg.Scan.Symbols = NormalizeSymbols(cfg.Scan.Symbols)
	if err := cfg.Scan.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Rate.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
