// Package config provides layered configuration for gatehouse.
//
// Configuration is loaded in order:
//  1. Built-in defaults
//  2. YAML config file (explicit path, GATEHOUSE_CONFIG env, ./config.yaml,
//     /etc/gatehouse/config.yaml)
//  3. GATEHOUSE_* environment variable overrides
//  4. Validation
package config

import "time"

// Config holds all configuration for the gatehouse services.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Token    TokenConfig    `yaml:"token"`
	Security SecurityConfig `yaml:"security"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	DSNFile         string        `yaml:"dsn_file"`           // _file variant for dsn
	MaxOpenConns    int           `yaml:"max_open_conns"`     // default: 50
	MaxIdleConns    int           `yaml:"max_idle_conns"`     // default: 25
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`  // default: 15m
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"` // default: 5m
}

// TokenConfig holds grant issuance settings.
type TokenConfig struct {
	Issuer     string        `yaml:"issuer"`      // default: "gatehouse"
	Secret     string        `yaml:"secret"`      // required, HS256 signing key
	SecretFile string        `yaml:"secret_file"` // _file variant for secret
	AccessTTL  time.Duration `yaml:"access_ttl"`  // default: 15m
	RefreshTTL time.Duration `yaml:"refresh_ttl"` // default: 336h
	LoginRate  RateConfig    `yaml:"login_rate"`
}

// RateConfig throttles password grant attempts per client.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second"` // default: 1
	Burst     int     `yaml:"burst"`      // default: 5
}

// SecurityConfig holds credential hashing settings.
type SecurityConfig struct {
	BcryptCost int `yaml:"bcrypt_cost"` // default: 12
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Token: TokenConfig{
			Issuer:     "gatehouse",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 14 * 24 * time.Hour,
			LoginRate:  RateConfig{PerSecond: 1, Burst: 5},
		},
		Security: SecurityConfig{
			BcryptCost: 12,
		},
	}
}
