// Package config loads the skygate YAML configuration. Values are supplied
// at startup and are immutable for the process lifetime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skygate-io/skygate/pkg/budget"
	"github.com/skygate-io/skygate/pkg/models"
)

// Duration wraps time.Duration so YAML values like "5m" parse.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all skygate configuration.
type Config struct {
	Listen    string        `yaml:"listen"`
	PublicURL string        `yaml:"public_url"`
	DBPath    string        `yaml:"db_path"`
	Catalog   CatalogConfig `yaml:"catalog"`
	Auth      AuthConfig    `yaml:"auth"`
	Orders    OrdersConfig  `yaml:"orders"`
	Budget    BudgetConfig  `yaml:"budget"`
	Sweep     SweepConfig   `yaml:"sweep"`
	Cache     CacheConfig   `yaml:"cache"`
}

// CacheConfig controls the search-result cache.
type CacheConfig struct {
	Enabled bool     `yaml:"enabled"`
	TTL     Duration `yaml:"ttl"`
}

// CatalogConfig describes the upstream imagery platform.
type CatalogConfig struct {
	URL             string   `yaml:"url"`
	APIKey          string   `yaml:"api_key"`
	Timeout         Duration `yaml:"timeout"`
	ForceLowestCost bool     `yaml:"force_lowest_cost"`
}

// AuthConfig controls one-time authentication links.
type AuthConfig struct {
	LinkTTL Duration `yaml:"link_ttl"`
}

// OrdersConfig controls purchase confirmation. Ordering spends real money
// and is off unless explicitly enabled.
type OrdersConfig struct {
	QuoteTTL       Duration `yaml:"quote_ttl"`
	EnableOrdering bool     `yaml:"enable_ordering"`
}

// BudgetConfig sets spend ceilings in whole currency units. Zero means
// unlimited.
type BudgetConfig struct {
	PerOrderLimit float64 `yaml:"per_order_limit"`
	SessionLimit  float64 `yaml:"session_limit"`
	DailyLimit    float64 `yaml:"daily_limit"`
}

// Limits converts the configured ceilings to guard limits.
func (b BudgetConfig) Limits() budget.Limits {
	return budget.Limits{
		PerOrder: models.CentsFromDollars(b.PerOrderLimit),
		Session:  models.CentsFromDollars(b.SessionLimit),
		Daily:    models.CentsFromDollars(b.DailyLimit),
	}
}

// SweepConfig controls the expiry sweeper.
type SweepConfig struct {
	Interval      Duration `yaml:"interval"`
	RedeemedGrace Duration `yaml:"redeemed_grace"`
}

// Default returns a Config with the conservative stock limits.
func Default() *Config {
	return &Config{
		Listen:    ":8787",
		PublicURL: "http://localhost:8787",
		DBPath:    "skygate.db",
		Catalog: CatalogConfig{
			URL:             "https://app.skyfi.com/platform-api",
			Timeout:         Duration(30 * time.Second),
			ForceLowestCost: true,
		},
		Auth: AuthConfig{
			LinkTTL: Duration(5 * time.Minute),
		},
		Orders: OrdersConfig{
			QuoteTTL:       Duration(5 * time.Minute),
			EnableOrdering: false,
		},
		Budget: BudgetConfig{
			PerOrderLimit: 20.0,
			SessionLimit:  40.0,
			DailyLimit:    40.0,
		},
		Sweep: SweepConfig{
			Interval:      Duration(time.Minute),
			RedeemedGrace: Duration(10 * time.Minute),
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     Duration(15 * time.Minute),
		},
	}
}

// Load reads a YAML config file, expands environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.PublicURL == "" {
		return fmt.Errorf("config: public_url is required")
	}
	if c.Catalog.URL == "" {
		return fmt.Errorf("config: catalog.url is required")
	}
	if c.Auth.LinkTTL <= 0 {
		return fmt.Errorf("config: auth.link_ttl must be positive")
	}
	if c.Orders.QuoteTTL <= 0 {
		return fmt.Errorf("config: orders.quote_ttl must be positive")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("config: sweep.interval must be positive")
	}
	if c.Budget.PerOrderLimit < 0 || c.Budget.SessionLimit < 0 || c.Budget.DailyLimit < 0 {
		return fmt.Errorf("config: budget limits must not be negative")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive when the cache is enabled")
	}
	return nil
}
