package anomaly

import "errors"

// ErrInvalidConfig is returned for out-of-range detector thresholds.
var ErrInvalidConfig = errors.New("invalid anomaly config")
