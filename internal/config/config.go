package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/efreitasn/bourse/internal/domain"
)

// Config holds all runtime configuration for the bourse.
type Config struct {
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	LogFile         string        `yaml:"log_file"`
	DatabasePath    string        `yaml:"database_path"`
	Pricing         PricingConfig `yaml:"pricing"`
	Store           StoreConfig   `yaml:"store"`
	AuditInterval   time.Duration `yaml:"audit_interval"`
	WebhookTimeout  time.Duration `yaml:"webhook_timeout"`
	StreamBuffer    int           `yaml:"stream_buffer"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Products        []ProductSeed `yaml:"products"`
}

// PricingConfig selects the demand strategy and the staleness tolerance.
type PricingConfig struct {
	Strategy  string          `yaml:"strategy"`
	Scale     float64         `yaml:"scale"`
	Tolerance decimal.Decimal `yaml:"tolerance"`
}

// StoreConfig controls retries of transient store failures.
type StoreConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// ProductSeed is a product onboarded at startup.
type ProductSeed struct {
	ProductID      string          `yaml:"product_id"`
	Name           string          `yaml:"name"`
	BasePrice      decimal.Decimal `yaml:"base_price"`
	StockAvailable int64           `yaml:"stock_available"`
}

// Default returns the configuration used when neither a file nor the
// environment sets a value.
func Default() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",
		Pricing: PricingConfig{
			Strategy:  "linear",
			Scale:     0.2,
			Tolerance: decimal.RequireFromString("0.01"),
		},
		Store: StoreConfig{
			MaxRetries:     3,
			RetryBaseDelay: 20 * time.Millisecond,
			RetryMaxDelay:  500 * time.Millisecond,
		},
		AuditInterval:   time.Minute,
		WebhookTimeout:  5 * time.Second,
		StreamBuffer:    64,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and environment variables, in that order, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overrideWithEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overrideWithEnv() error {
	var err error

	if c.Port, err = getInt("PORT", c.Port); err != nil {
		return err
	}
	c.LogLevel = getStr("LOG_LEVEL", c.LogLevel)
	c.LogFile = getStr("LOG_FILE", c.LogFile)
	c.DatabasePath = getStr("DATABASE_PATH", c.DatabasePath)

	c.Pricing.Strategy = getStr("PRICING_STRATEGY", c.Pricing.Strategy)
	if c.Pricing.Scale, err = getFloat("PRICING_SCALE", c.Pricing.Scale); err != nil {
		return err
	}
	if c.Pricing.Tolerance, err = getDecimal("PRICE_TOLERANCE", c.Pricing.Tolerance); err != nil {
		return err
	}

	if c.Store.MaxRetries, err = getInt("STORE_MAX_RETRIES", c.Store.MaxRetries); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"STORE_RETRY_BASE_DELAY", &c.Store.RetryBaseDelay},
		{"AUDIT_INTERVAL", &c.AuditInterval},
		{"WEBHOOK_TIMEOUT", &c.WebhookTimeout},
		{"READ_TIMEOUT", &c.ReadTimeout},
		{"WRITE_TIMEOUT", &c.WriteTimeout},
		{"IDLE_TIMEOUT", &c.IdleTimeout},
		{"SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every field and every product seed.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d, must be between 1 and 65535", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	switch c.Pricing.Strategy {
	case "linear", "logarithmic":
	default:
		return fmt.Errorf("invalid pricing.strategy: %q, must be one of: linear, logarithmic", c.Pricing.Strategy)
	}
	if !(c.Pricing.Scale > 0) || math.IsInf(c.Pricing.Scale, 0) {
		return fmt.Errorf("invalid pricing.scale: %v, must be a finite value greater than 0", c.Pricing.Scale)
	}
	if c.Pricing.Tolerance.IsNegative() {
		return fmt.Errorf("invalid pricing.tolerance: %s, must be >= 0", c.Pricing.Tolerance)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("invalid store.max_retries: %d, must be >= 0", c.Store.MaxRetries)
	}
	if c.Store.RetryBaseDelay <= 0 || c.Store.RetryMaxDelay <= 0 {
		return fmt.Errorf("invalid store retry delays: base %v, max %v, both must be greater than 0", c.Store.RetryBaseDelay, c.Store.RetryMaxDelay)
	}
	if c.AuditInterval < 0 {
		return fmt.Errorf("invalid audit_interval: %v, must be >= 0", c.AuditInterval)
	}
	if c.StreamBuffer < 1 {
		return fmt.Errorf("invalid stream_buffer: %d, must be >= 1", c.StreamBuffer)
	}
	for name, d := range map[string]time.Duration{
		"webhook_timeout":  c.WebhookTimeout,
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"idle_timeout":     c.IdleTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: %v, must be greater than 0", name, d)
		}
	}

	seen := make(map[string]bool, len(c.Products))
	for i, s := range c.Products {
		if _, err := domain.NewProduct(s.ProductID, s.Name, s.BasePrice, s.StockAvailable); err != nil {
			return fmt.Errorf("invalid products[%d]: %w", i, err)
		}
		if seen[s.ProductID] {
			return fmt.Errorf("invalid products[%d]: duplicate product_id %q", i, s.ProductID)
		}
		seen[s.ProductID] = true
	}
	return nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
