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
	Status  int    `json:"status"`
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
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrServiceUnavailable = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "service unavailable")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Attendance verification errors. These are structural rejections and never produce an anomaly.
var (
	ErrSessionNotFound    = New("SESSION_NOT_FOUND", http.StatusNotFound, "session not found")
	ErrSessionInactive    = New("SESSION_INACTIVE", http.StatusConflict, "session is not accepting attendance")
	ErrStudentNotFound    = New("STUDENT_NOT_FOUND", http.StatusNotFound, "student not found")
	ErrNotEnrolled        = New("NOT_ENROLLED", http.StatusForbidden, "student is not enrolled in this course")
	ErrInvalidDate        = New("INVALID_DATE", http.StatusBadRequest, "session date cannot be in the past")
	ErrInvalidQRFormat    = New("INVALID_QR_FORMAT", http.StatusBadRequest, "invalid QR code format")
	ErrFingerprintNoMatch = New("FINGERPRINT_NO_MATCH", http.StatusUnauthorized, "fingerprint does not match")
	ErrCodeExhausted      = New("CODE_EXHAUSTED", http.StatusServiceUnavailable, "could not allocate a unique attendance code")
	ErrDuplicateRecord    = New("DUPLICATE_RECORD", http.StatusConflict, "record already exists")
)

// Biometric provider errors.
var (
	ErrNoFace            = New("NO_FACE", http.StatusUnprocessableEntity, "no face detected")
	ErrMultipleFaces     = New("MULTIPLE_FACES", http.StatusUnprocessableEntity, "multiple faces detected")
	ErrPoorLighting      = New("POOR_LIGHTING", http.StatusUnprocessableEntity, "image too dark or overexposed")
	ErrFaceTooSmall      = New("FACE_TOO_SMALL", http.StatusUnprocessableEntity, "face too small, move closer")
	ErrExtractionFailed  = New("EXTRACTION_FAILED", http.StatusUnprocessableEntity, "face features could not be extracted")
	ErrBiometricProvider = New("BIOMETRIC_PROVIDER_ERROR", http.StatusBadGateway, "biometric provider unavailable")
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
