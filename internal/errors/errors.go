// Package errors provides standardized error handling for the FishNet vault service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the vault service.
type ErrorCode string

const (
	// Validation errors
	FN_VALIDATION    ErrorCode = "FN_VALIDATION"    // General validation error
	FN_SCHEMA_REJECT ErrorCode = "FN_SCHEMA_REJECT" // Payload schema validation failed
	FN_BAD_REQUEST   ErrorCode = "FN_BAD_REQUEST"   // Bad request

	// Authentication/Authorization errors
	FN_AUTHN       ErrorCode = "FN_AUTHN"       // Authentication failed
	FN_JWT_INVALID ErrorCode = "FN_JWT_INVALID" // Invalid JWT
	FN_JWT_EXPIRED ErrorCode = "FN_JWT_EXPIRED" // Expired JWT

	// Resource errors
	FN_NOT_FOUND  ErrorCode = "FN_NOT_FOUND"  // Resource not found
	FN_IMAGE_SIZE ErrorCode = "FN_IMAGE_SIZE" // Image payload exceeds the size limit
	FN_IMAGE_TYPE ErrorCode = "FN_IMAGE_TYPE" // Image payload is not an accepted type

	// Sync errors
	FN_SYNC_OFFLINE ErrorCode = "FN_SYNC_OFFLINE" // Force sync rejected while offline
	FN_SYNC_BUSY    ErrorCode = "FN_SYNC_BUSY"    // Force sync rejected while a cycle is running
	FN_SYNC_FAILED  ErrorCode = "FN_SYNC_FAILED"  // Systemic sync failure

	// Server errors
	FN_INTERNAL ErrorCode = "FN_INTERNAL" // Internal server error
	FN_OFFLINE  ErrorCode = "FN_OFFLINE"  // Resource unavailable, every cache fallback exhausted
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case FN_VALIDATION, FN_SCHEMA_REJECT, FN_BAD_REQUEST, FN_IMAGE_SIZE, FN_IMAGE_TYPE:
		return http.StatusBadRequest
	case FN_AUTHN, FN_JWT_INVALID, FN_JWT_EXPIRED:
		return http.StatusUnauthorized
	case FN_NOT_FOUND:
		return http.StatusNotFound
	case FN_SYNC_OFFLINE, FN_SYNC_BUSY:
		return http.StatusConflict
	case FN_OFFLINE:
		return http.StatusServiceUnavailable
	case FN_SYNC_FAILED:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
