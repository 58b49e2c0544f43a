package source

import "errors"

// Sentinel kinds for source-data errors.
var (
	ErrUnknownFamily = errors.New("unknown computation family")
)
