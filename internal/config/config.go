// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port               int           `yaml:"port" env:"HTTP_PORT"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"` // per user and route; 0 disables
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"` // trace|debug|info|warn|error
	Format   string `yaml:"format"`                // json|console
	Sampling bool   `yaml:"sampling"`              // enable sampling in prod
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DATABASE_DRIVER"` // postgres|mysql
	URL      string `yaml:"url" env:"DATABASE_URL"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type StripeConfig struct {
	SecretKey     string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	Tolerance     time.Duration `yaml:"tolerance"`
	// MaxNetworkRetries is handed to the SDK; negative disables retries.
	MaxNetworkRetries int64 `yaml:"max_network_retries"`
}

type PaymentConfig struct {
	Provider string       `yaml:"provider"` // stripe|noop (noop only with -dev)
	Stripe   StripeConfig `yaml:"stripe"`
}

type CarrierConfig struct {
	Provider      string        `yaml:"provider"` // ocs|noop
	BaseURL       string        `yaml:"base_url" env:"CARRIER_BASE_URL"`
	Token         string        `yaml:"token" env:"CARRIER_TOKEN"`
	Timeout       time.Duration `yaml:"timeout"`
	SimNamePrefix string        `yaml:"sim_name_prefix"`
}

type OrdersConfig struct {
	ProcessingStaleAfter time.Duration `yaml:"processing_stale_after"`
	DefaultCurrency      string        `yaml:"default_currency"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic"`
}

type WorkerConfig struct {
	Size int `yaml:"size"`
}

type ReconcilerConfig struct {
	// Interval defaults to 5m; a negative value turns the reconciler off.
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Payment    PaymentConfig    `yaml:"payment"`
	Carrier    CarrierConfig    `yaml:"carrier"`
	Orders     OrdersConfig     `yaml:"orders"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Worker     WorkerConfig     `yaml:"worker"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads -config and -dev from the command line, then the YAML
// file, then environment overrides for secrets.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse builds a validated Config from YAML bytes and the process environment.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "stripe"
		if cfg.Runtime.Dev {
			cfg.Payment.Provider = "noop"
		}
	}
	if cfg.Payment.Stripe.BaseURL == "" {
		cfg.Payment.Stripe.BaseURL = "https://api.stripe.com"
	}
	if cfg.Payment.Stripe.Timeout <= 0 {
		cfg.Payment.Stripe.Timeout = 15 * time.Second
	}
	if cfg.Payment.Stripe.Tolerance <= 0 {
		cfg.Payment.Stripe.Tolerance = 5 * time.Minute
	}
	if cfg.Payment.Stripe.MaxNetworkRetries == 0 {
		cfg.Payment.Stripe.MaxNetworkRetries = 2
	}

	if cfg.Carrier.Provider == "" {
		cfg.Carrier.Provider = "ocs"
		if cfg.Runtime.Dev {
			cfg.Carrier.Provider = "noop"
		}
	}
	if cfg.Carrier.Timeout <= 0 {
		cfg.Carrier.Timeout = 30 * time.Second
	}
	if cfg.Carrier.SimNamePrefix == "" {
		cfg.Carrier.SimNamePrefix = "eSIM"
	}

	if cfg.Orders.ProcessingStaleAfter <= 0 {
		cfg.Orders.ProcessingStaleAfter = 10 * time.Minute
	}
	if cfg.Orders.DefaultCurrency == "" {
		cfg.Orders.DefaultCurrency = "USD"
	}
	cfg.Orders.DefaultCurrency = strings.ToUpper(cfg.Orders.DefaultCurrency)

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "esim.orders"
	}
	if cfg.Worker.Size <= 0 {
		cfg.Worker.Size = 4
	}
	if cfg.Reconciler.Interval == 0 {
		cfg.Reconciler.Interval = 5 * time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 15 * time.Minute
	}
}

// Minimal validation
func (cfg *Config) validate() error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	switch cfg.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	switch cfg.Payment.Provider {
	case "stripe":
		if cfg.Payment.Stripe.SecretKey == "" || cfg.Payment.Stripe.WebhookSecret == "" {
			return errors.New("payment.stripe.secret_key and payment.stripe.webhook_secret are required")
		}
	case "noop":
		if !cfg.Runtime.Dev {
			return errors.New("payment.provider noop is only allowed in dev mode")
		}
	default:
		return fmt.Errorf("payment.provider %q is not supported", cfg.Payment.Provider)
	}
	switch cfg.Carrier.Provider {
	case "ocs":
		if cfg.Carrier.BaseURL == "" || cfg.Carrier.Token == "" {
			return errors.New("carrier.base_url and carrier.token are required")
		}
	case "noop":
		if !cfg.Runtime.Dev {
			return errors.New("carrier.provider noop is only allowed in dev mode")
		}
	default:
		return fmt.Errorf("carrier.provider %q is not supported", cfg.Carrier.Provider)
	}
	// A reclaim must not race a carrier call that is still inside its timeout.
	if cfg.Orders.ProcessingStaleAfter <= cfg.Carrier.Timeout {
		return fmt.Errorf("orders.processing_stale_after (%s) must exceed carrier.timeout (%s)",
			cfg.Orders.ProcessingStaleAfter, cfg.Carrier.Timeout)
	}
	if len(cfg.Orders.DefaultCurrency) != 3 {
		return errors.New("orders.default_currency must be an ISO 4217 code")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
