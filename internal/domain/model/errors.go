package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownSkill     = errors.New("unknown skill")
	ErrUnknownSource    = errors.New("unknown source")
	ErrInvalidStudentID = errors.New("invalid student id")
)

// InputError describes a malformed caller-supplied identifier.
type InputError struct {
	Field string
	Value string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

// Unwrap exposes both the specific kind and ErrInvalidInput.
func (e *InputError) Unwrap() []error {
	return []error{e.Err, ErrInvalidInput}
}
