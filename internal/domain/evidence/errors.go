package evidence

import (
	"errors"
	"fmt"

	model "github.com/okian/fusion/internal/domain/model"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrCollectorFailure = errors.New("collector failure")
	ErrInvalidData      = errors.New("invalid evidence data")
)

// Failure causes reported by collectors.
const (
	CauseFetch       = "fetch"
	CauseInference   = "inference"
	CauseInvalidData = "invalid_data"
	CauseTimeout     = "timeout"
	CausePanic       = "panic"
	CauseCanceled    = "canceled"
)

// CollectorError is the failure half of a collector result.
type CollectorError struct {
	Source model.Source
	Cause  string
	Err    error
}

// NewCollectorError wraps err for source with a metrics-friendly cause.
func NewCollectorError(source model.Source, cause string, err error) *CollectorError {
	return &CollectorError{Source: source, Cause: cause, Err: err}
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("%s collector: %s: %v", e.Source, e.Cause, e.Err)
}

// Unwrap exposes both ErrCollectorFailure and the underlying error.
func (e *CollectorError) Unwrap() []error {
	return []error{ErrCollectorFailure, e.Err}
}
