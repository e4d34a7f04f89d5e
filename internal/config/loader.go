package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery
// order: explicit path, GATEHOUSE_CONFIG, ./config.yaml,
// /etc/gatehouse/config.yaml. Returns "" when nothing is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("GATEHOUSE_CONFIG"); envPath != "" {
		return envPath
	}
	candidates := []string{
		"config.yaml",
		"/etc/gatehouse/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps GATEHOUSE_* environment variables to config
// fields. Env always wins over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEHOUSE_PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GATEHOUSE_TOKEN_SECRET"); v != "" {
		cfg.Token.Secret = v
	}
	if v := os.Getenv("GATEHOUSE_TOKEN_ISSUER"); v != "" {
		cfg.Token.Issuer = v
	}
	if v := os.Getenv("GATEHOUSE_ACCESS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Token.AccessTTL = d
		}
	}
	if v := os.Getenv("GATEHOUSE_REFRESH_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Token.RefreshTTL = d
		}
	}
	if v := os.Getenv("GATEHOUSE_BCRYPT_COST"); v != "" {
		if cost, err := strconv.Atoi(v); err == nil {
			cfg.Security.BcryptCost = cost
		}
	}
}

// resolveFileReferences loads secrets declared through _file fields.
// A _file field wins over its inline counterpart.
func resolveFileReferences(cfg *Config) error {
	if cfg.Database.DSNFile != "" {
		v, err := readSecretFile(cfg.Database.DSNFile)
		if err != nil {
			return fmt.Errorf("database.dsn_file: %w", err)
		}
		cfg.Database.DSN = v
	}
	if cfg.Token.SecretFile != "" {
		v, err := readSecretFile(cfg.Token.SecretFile)
		if err != nil {
			return fmt.Errorf("token.secret_file: %w", err)
		}
		cfg.Token.Secret = v
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
