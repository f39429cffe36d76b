package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// Credential lifecycle.
	ErrSecurityBreach = New("SECURITY_BREACH", http.StatusUnauthorized, "refresh token reuse detected, all sessions revoked")
	ErrInvalidReset   = New("INVALID_RESET_TOKEN", http.StatusUnauthorized, "reset token is invalid or expired")

	// Enrollment and assessment business rules.
	ErrNotEnrolled          = New("NOT_ENROLLED", http.StatusBadRequest, "student is not enrolled in the course")
	ErrOwnCourse            = New("OWN_COURSE", http.StatusBadRequest, "course owners cannot enroll in their own course")
	ErrUnknownUnit          = New("UNKNOWN_UNIT", http.StatusBadRequest, "unit does not exist in the course")
	ErrEnrollmentDropped    = New("ENROLLMENT_DROPPED", http.StatusConflict, "enrollment is dropped")
	ErrMaxAttemptsReached   = New("MAX_ATTEMPTS_REACHED", http.StatusBadRequest, "maximum number of attempts reached")
	ErrAssessmentClosed     = New("ASSESSMENT_UNAVAILABLE", http.StatusBadRequest, "assessment is not available")
	ErrAttemptNotInProgress = New("ATTEMPT_NOT_IN_PROGRESS", http.StatusBadRequest, "attempt is not in progress")
	ErrSimilarName          = New("SIMILAR_NAME", http.StatusConflict, "a similarly named institution already exists")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
