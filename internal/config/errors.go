package config

import (
	"errors"
)

// Sentinel errors returned by Load and Validate.
var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrMissingSetting marks a setting the selected backend cannot run without.
	ErrMissingSetting = errors.New("required setting missing")
	// ErrLoadConfig wraps failures reading the file or the environment.
	ErrLoadConfig = errors.New("load config failed")
)
