package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Pipeline error taxonomy. Stage handlers wrap these so the delivery layer
// can decide between redelivery and dropping a poison message.
var (
	// ErrNotFound: a job identity with no record. Poison message; retrying
	// will not help.
	ErrNotFound = errors.New("resource not found")
	// ErrIntakeRejected: the recognition engine refused the submission. The
	// record is written with step ERROR and no message is emitted.
	ErrIntakeRejected = errors.New("intake rejected by recognition engine")
	// ErrEngineFetch: result pagination aborted mid-stream. The whole stage
	// fails with no partial blob written; eligible for redelivery.
	ErrEngineFetch = errors.New("engine fetch failed")
	// ErrClassification: the classification collaborator failed or returned
	// output that does not match its schema. Stage fails, step unchanged.
	ErrClassification = errors.New("classification failed")
	// ErrStoreWrite: the record store rejected a mutation. Never swallowed on
	// record-mutating paths.
	ErrStoreWrite = errors.New("store write failed")

	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
