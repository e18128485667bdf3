package guard

import "errors"

// Sentinel errors for the orchestrator.
var (
	ErrInvalidConfig = errors.New("invalid guard config")
	ErrForeignKey    = errors.New("idempotency key belongs to another actor")
	ErrCheckPanicked = errors.New("guard check panicked")
)
