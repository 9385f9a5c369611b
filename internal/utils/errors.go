package utils

import "fmt"

// AppError wraps an operation, the service it concerned, and the underlying error.
type AppError struct {
	Op      string
	Service string
	Err     error
}

func (e *AppError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Service, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError; it returns nil when err is nil.
func NewAppError(op, service string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Service: service, Err: err}
}
