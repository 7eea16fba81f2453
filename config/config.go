// Package config loads the service configuration from an explicit YAML
// file path. There is no ambient environment lookup: the path comes in
// from the caller (typically a -config flag) and every consumer receives
// the parsed Config by injection.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	DB      DBConfig      `yaml:"db"`
	Loyalty LoyaltyConfig `yaml:"loyalty"`
	Payroll PayrollConfig `yaml:"payroll"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DBConfig holds the SQLite settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// LoyaltyConfig holds the fixed program parameters.
type LoyaltyConfig struct {
	// RewardDivisor is the currency units per point on order completion.
	RewardDivisor int64 `yaml:"reward_divisor"`
	// ReferralBonus is the fixed award per distinct referred member.
	ReferralBonus int64 `yaml:"referral_bonus"`
}

// PayrollConfig holds commission parameters.
type PayrollConfig struct {
	// CommissionRate is a decimal fraction, e.g. "0.1" for 10%.
	CommissionRate string `yaml:"commission_rate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		DB: DBConfig{
			Path: "loyalty.db",
		},
		Loyalty: LoyaltyConfig{
			RewardDivisor: 100,
			ReferralBonus: 100,
		},
		Payroll: PayrollConfig{
			CommissionRate: "0.1",
		},
	}
}

// Load reads the config from path. An empty path returns Default();
// a missing or malformed file is an error (no silent fallback).
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields a typo would most plausibly break.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	if c.Loyalty.RewardDivisor <= 0 {
		return fmt.Errorf("loyalty.reward_divisor must be positive, got %d", c.Loyalty.RewardDivisor)
	}
	if _, err := c.CommissionRate(); err != nil {
		return err
	}
	return nil
}

// CommissionRate parses the configured rate as a decimal.
func (c *Config) CommissionRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Payroll.CommissionRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payroll.commission_rate %q is not a decimal", c.Payroll.CommissionRate)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("payroll.commission_rate must not be negative")
	}
	return rate, nil
}
