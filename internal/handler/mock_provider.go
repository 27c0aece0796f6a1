package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"orderpay/internal/domain"
	"orderpay/internal/gateway"
	"orderpay/internal/service"
)

// OrderLookup finds orders by ID.
type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (*domain.OrderDetails, error)
}

// MockProviderHandler serves the simulated payment provider. It answers
// charge requests and never changes order or transaction state.
type MockProviderHandler struct {
	orders    OrderLookup
	simulator *gateway.Simulator
}

// NewMockProviderHandler creates a new MockProviderHandler.
func NewMockProviderHandler(orders OrderLookup, simulator *gateway.Simulator) *MockProviderHandler {
	return &MockProviderHandler{orders: orders, simulator: simulator}
}

// Charge handles POST /api/mock-stripe/charge
func (h *MockProviderHandler) Charge(c *gin.Context) {
	var req domain.ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		c.JSON(http.StatusUnprocessableEntity, gateway.SimulatedResponse{Status: "error", Message: "order_id is required."})
		return
	}

	if _, err := h.orders.GetOrder(c.Request.Context(), req.OrderID); err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gateway.SimulatedResponse{Status: "error", Message: "Order not found."})
			return
		}
		respondError(c, err)
		return
	}

	status, resp := h.simulator.Respond(c.Request.Context(), req)
	c.JSON(status, resp)
}
