package apperrors

import (
	"errors"
	"fmt"
)

// Base error kinds
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrTransitionRejected = errors.New("transition rejected")
	ErrExternalService    = errors.New("external service error")
)

// Kind names used in per-item reports and API responses.
const (
	KindValidation         = "validation_error"
	KindNotFound           = "not_found"
	KindInvalidIdentifier  = "invalid_identifier"
	KindTransitionRejected = "transition_rejected"
	KindExternalService    = "external_service_error"
	KindInternal           = "internal_error"
)

// ServiceError describes a failed call to an embedding or vector-search backend.
type ServiceError struct {
	Service string
	Op      string
	Cause   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Cause)
}

func (e *ServiceError) Unwrap() []error {
	return []error{ErrExternalService, e.Cause}
}

// External wraps err as an ExternalServiceError. A nil err stays nil.
func External(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Service: service, Op: op, Cause: err}
}

// Validation returns a formatted ErrValidation.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// NotFound reports a missing entity by kind and id.
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// InvalidID reports a malformed identifier.
func InvalidID(entity, id string) error {
	return fmt.Errorf("%s id %q: %w", entity, id, ErrInvalidIdentifier)
}

// Kind classifies err into the taxonomy. Order matters: an identifier error
// is more specific than a validation error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIdentifier):
		return KindInvalidIdentifier
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTransitionRejected):
		return KindTransitionRejected
	case errors.Is(err, ErrExternalService):
		return KindExternalService
	default:
		return KindInternal
	}
}
