package repository

import "errors"

// Sentinel kinds for persistence errors.
var (
	ErrCacheMissing   = errors.New("cache entry missing")
	ErrConfigNotFound = errors.New("configuration not found")
	ErrNoActiveConfig = errors.New("no active configuration for family")
)
