package service

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrStartup marks misconfiguration that prevents the service from starting.
	ErrStartup = errors.New("startup misconfiguration")
	// ErrBatchTooLarge is returned when a batch exceeds the configured cap.
	ErrBatchTooLarge = errors.New("batch too large")
	// ErrEmptyBatch is returned for a batch without student IDs.
	ErrEmptyBatch = errors.New("empty batch")
)
