// Package errors defines the domain error taxonomy shared across the
// orchestration engine and the HTTP layer.
package errors

import "fmt"

// DomainError is a coded error that the handler layer maps onto HTTP
// status codes. Use errors.Is against the package sentinels.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Wrap returns a copy of the sentinel carrying an underlying cause, so that
// errors.Is still matches the sentinel.
func (e *DomainError) Wrap(err error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Err: err}
}

// WithMessage returns a copy of the sentinel with a more specific message.
func (e *DomainError) WithMessage(msg string) *DomainError {
	return &DomainError{Code: e.Code, Message: msg, Err: e.Err}
}

// Is matches by code so wrapped copies compare equal to their sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
