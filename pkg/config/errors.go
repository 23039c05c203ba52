package config

import "errors"

// Sentinel errors returned by configuration lookups and validation.
var (
	ErrProviderNotFound = errors.New("llm provider not found")
	ErrNoProviders      = errors.New("no llm providers configured")
	ErrInvalidConfig    = errors.New("invalid configuration")
)
