package metrics

import "errors"

// Sentinel kinds for metrics export errors.
var (
	ErrGatherFailed = errors.New("metrics gather failed")
)
