package idempotency

import "errors"

// Sentinel errors for idempotency records.
var (
	ErrLockLost         = errors.New("idempotency lock held by another request")
	ErrAlreadyCompleted = errors.New("idempotency key already completed")
	ErrCorruptRecord    = errors.New("idempotency record is corrupt")
)
