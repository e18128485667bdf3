package payout

import "errors"

// ErrInvalidConfig is returned for out-of-range gate constants.
var ErrInvalidConfig = errors.New("invalid payout gate config")
