package config

import "errors"

// Sentinel error kinds. Load and Validate wrap them with the failing key or source.
var (
	ErrInvalidConfig = errors.New("invalid neodrop config")
	ErrLoadConfig    = errors.New("load neodrop config")
)
