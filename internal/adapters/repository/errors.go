package repository

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidSeed = errors.New("invalid evidence seed")
)
