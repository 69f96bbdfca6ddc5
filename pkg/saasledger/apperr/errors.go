package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error kinds. Every error a handler returns should match one of these
// through errors.Is; anything else is treated as ErrInternal.
var (
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrValidation             = errors.New("validation error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConflict               = errors.New("conflict")
	ErrTooManyRequests        = errors.New("too many requests")
	ErrInternal               = errors.New("internal error")
)

// Error carries a kind, a client-safe message and, for internal failures,
// the underlying cause which is logged but never returned to the client.
type Error struct {
	Kind    error
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is/As
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New creates an error of the given kind
func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NotFound reports that an entity does not resolve within the caller's tenant
func NotFound(entity string) *Error {
	return New(ErrNotFound, entity+" not found")
}

// Validation reports malformed input
func Validation(message string, details ...string) *Error {
	return &Error{Kind: ErrValidation, Message: message, Details: details}
}

// Internal wraps an unexpected failure; message is what the client sees
func Internal(message string, err error) *Error {
	return &Error{Kind: ErrInternal, Message: message, Err: err}
}

// FromBinding converts a gin binding error into a validation error with one
// detail per offending field.
func FromBinding(err error) *Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, describeField(fe))
		}
		return Validation("Invalid request body", details...)
	}
	return Validation("Invalid request body", err.Error())
}

func describeField(fe validator.FieldError) string {
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// Status maps an error to its HTTP status code
func Status(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Wrap passes classified errors through and turns anything else into an
// internal error with the given client message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return Internal(message, err)
}

// ParseID parses a path id; entity names it in the error message
func ParseID(raw, entity string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, Validation("Invalid " + entity + " ID")
	}
	return uint(id), nil
}
