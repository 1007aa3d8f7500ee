package reasoning

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrInvalidBudget     = errors.New("invalid token budget")
)
