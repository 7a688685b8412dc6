// Package errors defines the error taxonomy shared by the worker pool,
// delayed-call service, and endpoint dispatcher. Each kind is a distinct
// type so callers can discriminate with errors.As instead of string
// matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// InvalidArgumentError is raised for a null/zero argument where one is
// forbidden, for L > M, or for an unknown overflow policy.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s", e.Message)
}

func NewInvalidArgumentError(format string, args ...any) *InvalidArgumentError {
	return &InvalidArgumentError{Message: fmt.Sprintf(format, args...)}
}

// DisposedError is raised when a submission is attempted after dispose.
type DisposedError struct {
	Component string
}

func (e *DisposedError) Error() string {
	return fmt.Sprintf("%s is disposed", e.Component)
}

func NewDisposedError(component string) *DisposedError {
	return &DisposedError{Component: component}
}

// LongLimitExceededError is raised when a long submission is denied
// admission under the Throw overflow policy.
type LongLimitExceededError struct {
	Endpoint string
}

func (e *LongLimitExceededError) Error() string {
	return fmt.Sprintf("long request limit exceeded for endpoint %s", e.Endpoint)
}

func NewLongLimitExceededError(endpoint string) *LongLimitExceededError {
	return &LongLimitExceededError{Endpoint: endpoint}
}

// TransportError wraps an underlying transport failure (HTTP, TLS, DNS,
// timeout, or cancellation). It is delivered through the delegate's DidFail
// callback and the operation's Error method, and is returned directly by
// synchronous dispatch.
type TransportError struct {
	Endpoint  string
	Cancelled bool
	Cause     error
}

func (e *TransportError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("request to %s cancelled", e.Endpoint)
	}
	return fmt.Sprintf("transport error for %s: %v", e.Endpoint, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsCancelled reports whether this TransportError represents a cancelled
// operation rather than a genuine transport failure.
func (e *TransportError) IsCancelled() bool {
	return e.Cancelled
}

func NewTransportError(endpoint string, cause error) *TransportError {
	return &TransportError{Endpoint: endpoint, Cause: cause}
}

func NewCancelledError(endpoint string) *TransportError {
	return &TransportError{Endpoint: endpoint, Cancelled: true, Cause: fmt.Errorf("cancelled")}
}

// OverflowFailError is raised when a long submission is denied admission
// under the Fail overflow policy, in which case it is delivered
// asynchronously to the delegate's DidFail callback. Under the Enqueue
// policy it is returned synchronously when the long-waiter queue is already
// at its configured bound.
type OverflowFailError struct {
	Endpoint string
}

func (e *OverflowFailError) Error() string {
	return fmt.Sprintf("long request overflow for endpoint %s", e.Endpoint)
}

func NewOverflowFailError(endpoint string) *OverflowFailError {
	return &OverflowFailError{Endpoint: endpoint}
}

// ResourceNotFoundError is raised by internal/store when a single-row
// lookup finds no record. It is not part of the dispatcher/pool/timer
// taxonomy, but follows the same typed-error idiom.
type ResourceNotFoundError struct {
	Resource string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

func NewResourceNotFoundError(resource string) *ResourceNotFoundError {
	return &ResourceNotFoundError{Resource: resource}
}

// IsResourceNotFoundError reports whether err is a ResourceNotFoundError.
func IsResourceNotFoundError(err error) bool {
	var target *ResourceNotFoundError
	return stderrors.As(err, &target)
}
