package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels used with errors.Is. Every typed error below matches exactly one of them.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrTransport      = errors.New("transport rejected message")
	ErrMalformedEvent = errors.New("malformed event")
	ErrConflict       = errors.New("concurrent modification")
)

// ValidationError 表示调用方输入非法，持久化之前即被拒绝
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidation builds a ValidationError for a single field.
func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError 表示 ID 无法解析到实体
type NotFoundError struct {
	Entity string
	ID     int64
	// Name is set instead of ID for lookups by name.
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("no %s named %q", e.Entity, e.Name)
	}
	return fmt.Sprintf("%s with id %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewNotFoundByName builds a NotFoundError for a name lookup with no match.
func NewNotFoundByName(entity, name string) error {
	return &NotFoundError{Entity: entity, Name: name}
}

// TransportError wraps a publish the broker did not accept.
type TransportError struct {
	RoutingKey string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.RoutingKey, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// MalformedEventError is terminal: redelivering the same bytes can never succeed.
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return "malformed event: " + e.Reason
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

func (e *MalformedEventError) Is(target error) bool { return target == ErrMalformedEvent }

// ConflictError reports a lost optimistic version check.
type ConflictError struct {
	Entity          string
	ID              int64
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d was modified concurrently (expected version %d)", e.Entity, e.ID, e.ExpectedVersion)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IsTerminal reports whether retrying the operation that produced err cannot change the outcome.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrMalformedEvent)
}

// HTTPStatus maps err to the status code the HTTP handlers answer with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
