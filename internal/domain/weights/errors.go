package weights

import (
	"errors"
	"fmt"

	model "github.com/okian/fusion/internal/domain/model"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidWeightConfig = errors.New("invalid weight config")
	ErrPersist             = errors.New("weight persistence failed")
	ErrNoPersister         = errors.New("no weight persister configured")
)

// ValidationError explains why a mapping was rejected.
type ValidationError struct {
	Source model.Source
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%v: %s: %s", ErrInvalidWeightConfig, e.Source, e.Reason)
	}
	return fmt.Sprintf("%v: %s", ErrInvalidWeightConfig, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidWeightConfig }
