package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"orderpay/internal/repository"
	"orderpay/internal/service"
)

// Envelope statuses.
const (
	StatusSuccess    = "success"
	StatusProcessing = "processing"
	StatusError      = "error"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)

	message := err.Error()
	if code == http.StatusInternalServerError {
		log.Printf("[HTTP] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		_ = c.Error(err)
		message = "Internal server error."
	}

	c.JSON(code, Envelope{Status: StatusError, Message: message})
}

// respondJSON sends an envelope with the given status code.
func respondJSON(c *gin.Context, code int, status, message string, data any) {
	c.JSON(code, Envelope{Status: status, Message: message, Data: data})
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrTransactionNotFound):
		return http.StatusNotFound

	// Validation errors
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidOrderID),
		errors.Is(err, service.ErrInvalidTransactionID):
		return http.StatusUnprocessableEntity

	case errors.Is(err, service.ErrMissingToken):
		return http.StatusUnauthorized

	// Conflict errors
	case errors.Is(err, service.ErrPaymentInProgress):
		return http.StatusConflict

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
