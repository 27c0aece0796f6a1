package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"orderpay/internal/domain"
	"orderpay/internal/service"
)

// OrderHandler handles HTTP requests for orders and transactions.
type OrderHandler struct {
	orderService *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderService *service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// CreateOrderRequest is the HTTP request body for creating an order.
type CreateOrderRequest struct {
	Amount string `json:"amount"`
	UserID string `json:"user_id,omitempty"`
}

// OrderResponse is the HTTP representation of an order.
type OrderResponse struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id,omitempty"`
	Amount      string               `json:"amount"`
	Currency    string               `json:"currency,omitempty"`
	Status      string               `json:"status"`
	StatusLabel string               `json:"status_label"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
}

// TransactionResponse is the HTTP representation of a transaction.
type TransactionResponse struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	PaymentProvider string `json:"payment_provider"`
	Status          string `json:"status"`
	StatusLabel     string `json:"status_label"`
	ResponseData    string `json:"response_data,omitempty"`
	Attempts        int    `json:"attempts"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func newOrderResponse(order *domain.Order, txn *domain.Transaction) OrderResponse {
	resp := OrderResponse{
		ID:          order.ID,
		UserID:      order.UserID,
		Amount:      order.Amount,
		Status:      string(order.Status),
		StatusLabel: order.Status.Label(),
		CreatedAt:   order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   order.UpdatedAt.Format(time.RFC3339),
	}
	if amount, err := domain.ParseAmount(order.Amount); err == nil {
		resp.Currency = amount.Currency
	}
	if txn != nil {
		t := newTransactionResponse(txn)
		resp.Transaction = &t
	}
	return resp
}

func newTransactionResponse(txn *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:              txn.ID,
		OrderID:         txn.OrderID,
		PaymentProvider: txn.PaymentProvider,
		Status:          string(txn.Status),
		StatusLabel:     txn.Status.Label(),
		ResponseData:    txn.ResponseData,
		Attempts:        txn.Attempts,
		CreatedAt:       txn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       txn.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateOrder handles POST /api/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondJSON(c, http.StatusUnprocessableEntity, StatusError, "invalid request body", nil)
		return
	}

	if req.Amount == "" {
		respondJSON(c, http.StatusUnprocessableEntity, StatusError, "amount is required", nil)
		return
	}

	details, err := h.orderService.CreateOrder(c.Request.Context(), service.CreateOrderRequest{
		UserID: req.UserID,
		Amount: req.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, StatusSuccess, "Order created.", newOrderResponse(details.Order, details.Transaction))
}

// GetOrder handles GET /api/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	details, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, StatusSuccess, "Order retrieved.", newOrderResponse(details.Order, details.Transaction))
}

// GetAll handles GET /api/orders
func (h *OrderHandler) GetAll(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, newOrderResponse(o, nil))
	}

	respondJSON(c, http.StatusOK, StatusSuccess, "Orders retrieved.", resp)
}

// GetTransaction handles GET /api/transactions/:id
func (h *OrderHandler) GetTransaction(c *gin.Context) {
	txn, err := h.orderService.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, StatusSuccess, "Transaction retrieved.", newTransactionResponse(txn))
}
