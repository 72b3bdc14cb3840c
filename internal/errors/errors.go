package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/autopilot-engine/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed input (4xx, not retryable)
	CategoryValidation ErrorCategory = "validation"
	// CategoryRisk represents a business rule violation; never an HTTP error
	CategoryRisk ErrorCategory = "risk"
	// CategoryUpstream represents an unreachable provider or execution surface
	CategoryUpstream ErrorCategory = "upstream"
	// CategorySubmission represents an order that reached the network but did not confirm
	CategorySubmission ErrorCategory = "submission"
	// CategoryInvariant represents an internal invariant violation
	CategoryInvariant ErrorCategory = "invariant"
	// CategorySystem represents other internal errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryRateLimit represents inbound rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Error codes
const (
	CodeInvalidOrder        = "INVALID_ORDER"
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeRiskRejected        = "RISK_REJECTED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeSubmissionFailed    = "SUBMISSION_FAILED"
	CodeInvariantViolation  = "INTERNAL_INVARIANT_VIOLATION"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeNotFound            = "NOT_FOUND"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// Validation errors (4xx)

// NewInvalidOrderError creates an invalid order error
func NewInvalidOrderError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidOrder,
		Message:    fmt.Sprintf("invalid order: %s", reason),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewRiskRejectedError describes a risk rejection. The execution engine
// records rejections as outcomes; this form exists for callers that need to
// surface one as an error value.
func NewRiskRejectedError(wallet string, reason types.RejectReason) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRisk,
		StatusCode: http.StatusOK,
		Code:       CodeRiskRejected,
		Message:    fmt.Sprintf("order rejected by risk manager: %s", reason),
		Details: map[string]interface{}{
			"wallet": wallet,
			"reason": string(reason),
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// Upstream and submission errors (5xx, retryable)

// NewUpstreamUnavailableError creates an error for an unreachable dependency
func NewUpstreamUnavailableError(upstream string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUpstream,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeUpstreamUnavailable,
		Message:    fmt.Sprintf("upstream unavailable: %s", upstream),
		Cause:      cause,
		Details: map[string]interface{}{
			"upstream": upstream,
		},
	}
}

// NewSubmissionFailedError creates an error for an order that did not confirm
func NewSubmissionFailedError(orderID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySubmission,
		StatusCode: http.StatusBadGateway,
		Code:       CodeSubmissionFailed,
		Message:    fmt.Sprintf("order %s was submitted but did not confirm", orderID),
		Cause:      cause,
		Details: map[string]interface{}{
			"orderId": orderID,
		},
	}
}

// Internal errors

// NewInvariantViolationError creates an internal invariant violation error.
// These are logged and degraded to no-ops, never returned to callers as fatal.
func NewInvariantViolationError(invariant string, details map[string]interface{}) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvariant,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInvariantViolation,
		Message:    fmt.Sprintf("invariant violated: %s", invariant),
		Details:    details,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case CodeInvalidOrder, CodeInvalidParameter:
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeNotFound:
		return &CategorizedError{
			Category:   CategoryValidation,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeUpstreamUnavailable:
		return &CategorizedError{
			Category:   CategoryUpstream,
			StatusCode: http.StatusServiceUnavailable,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable by the caller
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryUpstream, CategorySubmission:
		return true
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}

// HasCode reports whether err categorizes to the given code
func HasCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}
