package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid values.
//
// Struct-tag validation (validator/v10) covers ranges and enumerations;
// cross-field checks that tags cannot express are applied afterwards.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("invalid value for %s: failed '%s' validation", e.Namespace(), e.Tag())
		}
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.API.JWT.Secret != "" && len(cfg.API.JWT.Secret) < 32 {
		return fmt.Errorf("api.jwt.secret must be at least 32 characters")
	}

	return nil
}
