package scoring

import "errors"

// Sentinel errors for scoring configuration.
var (
	ErrInvalidThresholds = errors.New("scoring: review threshold must be positive and below block threshold")
	ErrInvalidPrice      = errors.New("scoring: token price must be positive")
)
