package model

import (
	"errors"
	"fmt"
)

var (
	ErrTerminal          = errors.New("transaction is already in a terminal stage")
	ErrStageRegression   = errors.New("stage cannot move backwards")
	ErrPercentRegression = errors.New("progress percent cannot decrease")
)

// ValidationError is returned for bad input and illegal requests. It is terminal: retrying the
// same request fails the same way.
type ValidationError struct {
	Field   string
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// WrapValidationError turns err into a ValidationError on field, keeping err for errors.Is.
func WrapValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: err.Error(), Err: err}
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
