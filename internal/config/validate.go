package config

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Validate checks the configuration for required fields and valid
// values. Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required"))
	}

	if c.Token.Secret == "" {
		errs = append(errs, fmt.Errorf("token.secret is required"))
	} else if len(c.Token.Secret) < 32 {
		errs = append(errs, fmt.Errorf("token.secret must be at least 32 bytes, got %d", len(c.Token.Secret)))
	}

	if c.Token.AccessTTL <= 0 {
		errs = append(errs, fmt.Errorf("token.access_ttl must be > 0, got %s", c.Token.AccessTTL))
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		errs = append(errs, fmt.Errorf("token.refresh_ttl must exceed token.access_ttl"))
	}

	if c.Token.LoginRate.PerSecond <= 0 {
		errs = append(errs, fmt.Errorf("token.login_rate.per_second must be > 0, got %g", c.Token.LoginRate.PerSecond))
	}
	if c.Token.LoginRate.Burst <= 0 {
		errs = append(errs, fmt.Errorf("token.login_rate.burst must be > 0, got %d", c.Token.LoginRate.Burst))
	}

	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("security.bcrypt_cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Security.BcryptCost))
	}

	return errors.Join(errs...)
}
