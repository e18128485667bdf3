package ratelimit

import "errors"

// ErrInvalidSpec is returned for a tier with a non-positive limit or window.
var ErrInvalidSpec = errors.New("invalid rate limit spec")
