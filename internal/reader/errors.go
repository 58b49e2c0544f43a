package reader

import "errors"

// Sentinel kinds for read path errors.
var (
	ErrUnknownFamily = errors.New("unknown computation family")
)
