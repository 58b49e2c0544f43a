package orchestrator

import "errors"

// Sentinel kinds for orchestration errors.
var (
	ErrUnknownFamily  = errors.New("unknown computation family")
	ErrFamilyMismatch = errors.New("configuration belongs to another family")
)
