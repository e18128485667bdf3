package velocity

import "errors"

// Sentinel errors for the velocity guard.
var (
	ErrUnknownTenure = errors.New("no velocity limits for tenure class")
	ErrInvalidConfig = errors.New("invalid velocity config")
)
