// loader.go implements the configuration loading lifecycle:
//
//  1. Enforce UTC timezone to prevent billing-date drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Populate the Config struct from the environment via envconfig.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig loads, populates, and validates the process configuration.
// It returns a diagnostic error on any missing required value or invalid
// format; callers are expected to treat a failure as fatal.
func LoadConfig() (*Config, error) {
	// All billing-date arithmetic assumes UTC. Setting time.Local prevents
	// a mis-set server timezone from shifting next_billing_date boundaries.
	time.Local = time.UTC

	// Seed the environment from .env when present. Real environments inject
	// variables directly; the file is a local-development convenience.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: processing environment: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct-tag validation over the populated config and wraps
// the first failure with the offending namespace for diagnostics.
func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("config: invalid value for %s (rule %q)", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("config: validation failed: %w", err)
	}

	return nil
}

// asValidationErrors is a typed wrapper around errors.As for
// validator.ValidationErrors, kept separate for readability at the call site.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = verrs
	return true
}
