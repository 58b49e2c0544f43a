package config

import "errors"

// Sentinel kinds for service configuration errors. ErrLoadConfig covers
// unreadable sources; ErrInvalidConfig covers loaded but unusable values.
var (
	ErrInvalidConfig = errors.New("invalid service configuration")
	ErrLoadConfig    = errors.New("load service configuration failed")
)
