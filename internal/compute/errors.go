package compute

import "errors"

// Sentinel kinds for unit execution errors.
var (
	ErrUnknownUnitKind = errors.New("unknown unit kind")
)
