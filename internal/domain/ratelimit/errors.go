package ratelimit

import "errors"

// ErrInvalidWindow is returned when a window cannot back a token bucket.
var ErrInvalidWindow = errors.New("invalid rate limit window")
