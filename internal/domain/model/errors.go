package model

import "errors"

// Sentinel errors shared across the guard pipeline.
var (
	ErrValidation            = errors.New("invalid transaction request")
	ErrAccountNotFound       = errors.New("account not found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
