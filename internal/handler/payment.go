package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"orderpay/internal/middleware"
	"orderpay/internal/service"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// PaymentResponse is the HTTP response for a payment attempt.
type PaymentResponse struct {
	Order   OrderResponse `json:"order"`
	Outcome string        `json:"outcome,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	RetryAt string        `json:"retry_at,omitempty"`
}

// Pay handles POST /api/orders/:id/pay
func (h *PaymentHandler) Pay(c *gin.Context) {
	result, err := h.paymentService.Initiate(c.Request.Context(), service.InitiatePaymentRequest{
		OrderID: c.Param("id"),
		Token:   middleware.BearerToken(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := PaymentResponse{Order: newOrderResponse(result.Order, result.Transaction)}

	switch {
	case result.AlreadyPaid:
		respondJSON(c, http.StatusOK, StatusSuccess, "Order is already paid.", resp)

	case result.Paid():
		resp.Outcome = result.Outcome.String()
		respondJSON(c, http.StatusOK, StatusSuccess, "Payment processed successfully.", resp)

	case result.RetryScheduled:
		resp.Outcome = result.Outcome.String()
		resp.Reason = result.Reason
		resp.RetryAt = result.RetryAt.Format(time.RFC3339)
		respondJSON(c, http.StatusAccepted, StatusProcessing, "Payment failed; a retry has been scheduled.", resp)

	case result.ScheduleErr != nil:
		resp.Outcome = result.Outcome.String()
		resp.Reason = result.Reason
		_ = c.Error(result.ScheduleErr)
		respondJSON(c, http.StatusInternalServerError, StatusError, "Payment failed and the retry could not be scheduled.", resp)

	default:
		// Retry limit reached.
		resp.Outcome = result.Outcome.String()
		resp.Reason = result.Reason
		respondJSON(c, http.StatusPaymentRequired, StatusError, "Payment failed; retry limit reached.", resp)
	}
}
