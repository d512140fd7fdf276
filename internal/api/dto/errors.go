// Package dto defines the JSON request and response bodies of the HTTP API.
package dto

// APIError represents a structured error response.
// All error responses from the API use this format.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeNotFound         = "not_found"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeInternalError    = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeUnknownLeaf      = "unknown_leaf"
	ErrCodeInvalidKeywords  = "invalid_keyword_set"
	ErrCodeInvalidChoice    = "invalid_choice"
	ErrCodeInvalidAdvice    = "invalid_suggestion"
	ErrCodeAlreadyResolved  = "conflict_already_resolved"
	ErrCodeReapplyRunning   = "reapply_in_progress"
	ErrCodeSystemRule       = "system_rule"
	ErrCodeAdvisoryDisabled = "advisory_unavailable"
)

// NewAPIError creates a new APIError with the given code and message.
func NewAPIError(code, message string) APIError {
	return APIError{
		Code:    code,
		Message: message,
	}
}

// NotFoundError creates a not found error response.
func NotFoundError(resource string) APIError {
	return NewAPIError(ErrCodeNotFound, resource+" not found")
}

// BadRequestError creates a bad request error response.
func BadRequestError(message string) APIError {
	return NewAPIError(ErrCodeBadRequest, message)
}

// InternalError creates an internal server error response.
func InternalError() APIError {
	return NewAPIError(ErrCodeInternalError, "an internal error occurred")
}

// ValidationError creates a validation error response.
func ValidationError(message string) APIError {
	return NewAPIError(ErrCodeValidation, message)
}
