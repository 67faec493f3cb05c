package dto

import "errors"

// Execution errors
var (
	ErrMissingFlowID      = errors.New("flow ID is required")
	ErrInvalidParallelism = errors.New("parallelism must not be negative")
	ErrRunNotFound        = errors.New("run not found")
)
