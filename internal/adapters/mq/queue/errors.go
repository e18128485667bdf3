package queue

import "errors"

// Enqueue failures.
var (
	ErrClosed = errors.New("alert queue closed")
	ErrFull   = errors.New("alert queue full")
)
