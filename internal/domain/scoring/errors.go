package scoring

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidConfig = errors.New("invalid scoring configuration")
	ErrNoPopulation  = errors.New("population statistics required")
)
