// Package api provides the HTTP surface of the validator. It validates
// requests, forwards them to the scheduler, queries session state, and
// renders reports; it holds no business logic.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luissimon96/migration-validator/pkg/llm"
	"github.com/luissimon96/migration-validator/pkg/queue"
	"github.com/luissimon96/migration-validator/pkg/services"
)

// Stable error codes of the public taxonomy.
const (
	CodeValidationInput     = "validation-input"
	CodeAuth                = "auth"
	CodeOverloaded          = "overloaded"
	CodeNotFound            = "not-found"
	CodeConflict            = "conflict"
	CodeProviderUnavailable = "provider-unavailable"
	CodeBudgetExhausted     = "budget-exhausted"
	CodeDeadlineExceeded    = "deadline-exceeded"
	CodeInternal            = "internal"
)

// ErrorBody is the wire envelope for failures.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the sanitized failure description.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// abortError writes the error envelope and stops the handler chain.
func abortError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: c.Param("request_id"),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// mapServiceError translates layer errors into HTTP responses without
// leaking internals.
func mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		abortError(c, http.StatusBadRequest, CodeValidationInput, validErr.Error(), nil)
	case errors.Is(err, services.ErrNotFound):
		abortError(c, http.StatusNotFound, CodeNotFound, "resource not found", nil)
	case errors.Is(err, services.ErrAlreadyExists):
		abortError(c, http.StatusConflict, CodeConflict, "resource already exists", nil)
	case errors.Is(err, services.ErrNotCancellable):
		abortError(c, http.StatusConflict, CodeConflict, "session is not in a cancellable state", nil)
	case errors.Is(err, queue.ErrOverloaded):
		abortError(c, http.StatusServiceUnavailable, CodeOverloaded, "admission refused, retry later", nil)
	case errors.Is(err, llm.ErrProviderUnavailable):
		abortError(c, http.StatusBadGateway, CodeProviderUnavailable, "all llm providers unavailable", nil)
	case errors.Is(err, llm.ErrBudgetExhausted):
		abortError(c, http.StatusPaymentRequired, CodeBudgetExhausted, "session llm budget exhausted", nil)
	case errors.Is(err, llm.ErrDeadlineExceeded):
		abortError(c, http.StatusGatewayTimeout, CodeDeadlineExceeded, "operation deadline exceeded", nil)
	default:
		slog.Error("Unexpected service error", "error", err)
		abortError(c, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
	}
}
