package store

import "errors"

// Sentinel errors for the counter store.
var (
	ErrNotInteger = errors.New("store: value is not an integer")
	ErrInvalidTTL = errors.New("store: ttl must be positive")
	ErrClosed     = errors.New("store: closed")
	ErrFull       = errors.New("store: key limit reached")
)
