package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type AuthMode string

const (
	AuthRedis   AuthMode = "redis"
	AuthGateway AuthMode = "gateway"
)

type MPesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	CallbackSecret string
}

func (m MPesaConfig) Enabled() bool {
	return m.BaseURL != "" && m.ConsumerKey != "" && m.ConsumerSecret != "" && m.ShortCode != ""
}

type ArchiveConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

type AppConfig struct {
	HTTPAddr    string
	WSAddr      string
	MetricsAddr string

	DatabaseURL string
	RedisURL    string

	AuthMode     AuthMode
	GatewayToken string

	PlatformFee       decimal.Decimal
	PlatformAccountID string
	ClockTolerance    time.Duration
	SweepInterval     time.Duration
	LockTTL           time.Duration
	ReplayCacheSize   int
	AllowedOrigins    string

	MessagesDir string

	MPesa   MPesaConfig
	Archive ArchiveConfig
}

// Load reads .env when present, then the process environment.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		HTTPAddr:        ":8080",
		WSAddr:          ":8081",
		MetricsAddr:     ":9090",
		AuthMode:        AuthRedis,
		PlatformFee:     decimal.RequireFromString("0.2"),
		ClockTolerance:  2 * time.Second,
		SweepInterval:   15 * time.Second,
		LockTTL:         10 * time.Second,
		ReplayCacheSize: 1024,
		AllowedOrigins:  "*",
	}

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.WSAddr, "WS_ADDR")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	cfg.DatabaseURL = env("DATABASE_URL")
	cfg.RedisURL = env("REDIS_URL")
	cfg.GatewayToken = env("GATEWAY_TOKEN")
	cfg.PlatformAccountID = env("PLATFORM_ACCOUNT_ID")
	cfg.MessagesDir = env("MESSAGES_DIR")
	setString(&cfg.AllowedOrigins, "ALLOWED_ORIGINS")

	if v := env("AUTH_MODE"); v != "" {
		cfg.AuthMode = AuthMode(strings.ToLower(v))
	}
	if v := env("PLATFORM_FEE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errors.New("PLATFORM_FEE must be a decimal")
		}
		cfg.PlatformFee = d
	}
	setDuration(&cfg.ClockTolerance, "CLOCK_TOLERANCE")
	setDuration(&cfg.SweepInterval, "SWEEP_INTERVAL")
	setDuration(&cfg.LockTTL, "LOCK_TTL")
	if v := env("REPLAY_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReplayCacheSize = n
		}
	}

	cfg.MPesa = MPesaConfig{
		BaseURL:        env("MPESA_API_URL"),
		ConsumerKey:    env("MPESA_CONSUMER_KEY"),
		ConsumerSecret: env("MPESA_CONSUMER_SECRET"),
		ShortCode:      env("MPESA_SHORTCODE"),
		PassKey:        env("MPESA_PASSKEY"),
		CallbackURL:    env("MPESA_CALLBACK_URL"),
		CallbackSecret: env("MPESA_CALLBACK_SECRET"),
	}
	cfg.Archive = ArchiveConfig{
		Bucket:    env("ARCHIVE_BUCKET"),
		Endpoint:  env("ARCHIVE_ENDPOINT"),
		Region:    env("ARCHIVE_REGION"),
		AccessKey: env("ARCHIVE_ACCESS_KEY"),
		SecretKey: env("ARCHIVE_SECRET_KEY"),
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "auto"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.AuthMode {
	case AuthRedis:
		if c.RedisURL == "" {
			return errors.New("AUTH_MODE=redis requires REDIS_URL")
		}
	case AuthGateway:
		if c.GatewayToken == "" {
			return errors.New("AUTH_MODE=gateway requires GATEWAY_TOKEN")
		}
	default:
		return errors.New("AUTH_MODE must be redis or gateway")
	}
	if c.PlatformFee.IsNegative() || c.PlatformFee.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("PLATFORM_FEE must be within [0,1]")
	}
	if c.ClockTolerance < 0 {
		return errors.New("CLOCK_TOLERANCE must not be negative")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	return nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func setString(dst *string, k string) {
	if v := env(k); v != "" {
		*dst = v
	}
}

// setDuration accepts Go durations ("15s") or plain seconds.
func setDuration(dst *time.Duration, k string) {
	v := env(k)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
