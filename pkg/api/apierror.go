// Package api carries the shared HTTP plumbing: the error envelope with its
// status mapping, request-id and rate-limit middleware. Handlers live in
// pkg/server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorCode is the stable machine-readable error family.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "ValidationError"
	CodeNotFound            ErrorCode = "NotFound"
	CodeAuthRequired        ErrorCode = "AuthRequired"
	CodeQuorumUnmet         ErrorCode = "QuorumUnmet"
	CodeRateLimited         ErrorCode = "RateLimited"
	CodePasskeyMismatch     ErrorCode = "PasskeyMismatch"
	CodePaymentRejected     ErrorCode = "PaymentRejected"
	CodeExecutionFailed     ErrorCode = "ExecutionFailed"
	CodePendingConfirmation ErrorCode = "PendingConfirmation"
	CodeChainError          ErrorCode = "ChainError"
	CodeInternal            ErrorCode = "Internal"
)

// APIError is the exposed error envelope:
// {error, message, details?, suggestions?}.
type APIError struct {
	Code        ErrorCode      `json:"error"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an APIError with no details.
func NewError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithDetail attaches one detail entry, chainable.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithSuggestion appends a remediation hint, chainable.
func (e *APIError) WithSuggestion(s string) *APIError {
	e.Suggestions = append(e.Suggestions, s)
	return e
}

// statusFor maps error families onto HTTP statuses.
func statusFor(code ErrorCode) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthRequired:
		return http.StatusUnauthorized
	case CodePaymentRejected:
		return http.StatusPaymentRequired
	case CodeQuorumUnmet:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodePasskeyMismatch:
		return http.StatusConflict
	case CodeExecutionFailed:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodePendingConfirmation:
		return http.StatusAccepted
	case CodeChainError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteAPIError writes err as JSON with the status implied by its code.
// Non-APIError values are logged and masked as Internal.
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error", "error", err)
		apiErr = NewError(CodeInternal, "An unexpected error occurred. Please try again later.")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(apiErr.Code))
	_ = json.NewEncoder(w).Encode(apiErr)
}

// WriteValidation writes a 400 ValidationError.
func WriteValidation(w http.ResponseWriter, message string) {
	WriteAPIError(w, NewError(CodeValidation, message))
}

// WriteNotFound writes a 404 NotFound.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteAPIError(w, NewError(CodeNotFound, message))
}

// WriteUnauthorized writes a 401 AuthRequired.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	WriteAPIError(w, NewError(CodeAuthRequired, message))
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteAPIError(w, NewError(CodeRateLimited, "Rate limit exceeded. Retry after the specified interval."))
}

// WriteJSON writes a success payload.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
