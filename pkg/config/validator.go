package config

import (
	"errors"
	"fmt"
)

// Validate checks the loaded configuration for the fields every worker
// binary depends on being present, returning every violation found
// rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Broker.URL == "" {
		errs = append(errs, NewValidationError("broker", "url", ErrMissingRequiredField))
	}
	if c.ColumnarStore.URL == "" {
		errs = append(errs, NewValidationError("columnar_store", "url", ErrMissingRequiredField))
	}
	if c.RelationalStore.URL == "" {
		errs = append(errs, NewValidationError("relational_store", "url", ErrMissingRequiredField))
	}
	if c.Cost.CacheTTL <= 0 {
		errs = append(errs, NewValidationError("cost", "cache_ttl", ErrInvalidValue))
	}
	if c.Clustering.BatchSize <= 0 {
		errs = append(errs, NewValidationError("clustering", "batch_size", ErrInvalidValue))
	}
	if c.Clustering.FlushInterval <= 0 {
		errs = append(errs, NewValidationError("clustering", "flush_interval", ErrInvalidValue))
	}
	if c.Signal.MaxSteps <= 0 {
		errs = append(errs, NewValidationError("signal", "max_steps", ErrInvalidValue))
	}
	if c.Signal.GeminiAPIKey == "" {
		errs = append(errs, NewValidationError("signal", "gemini_api_key", ErrMissingRequiredField))
	}
	if c.WriteRouter.SigningKey == "" {
		errs = append(errs, NewValidationError("write_router", "signing_key", ErrMissingRequiredField))
	}
	if c.Broker.ReconnectInitial <= 0 || c.Broker.ReconnectMax <= 0 || c.Broker.ReconnectElapsed <= 0 {
		errs = append(errs, NewValidationError("broker", "reconnect", ErrInvalidValue))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
}
