package domain

import "time"

// OrderStatus represents the payment status of an order.
// Transactions share the same status values.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
)

// Label returns a human-readable label for the status.
func (s OrderStatus) Label() string {
	switch s {
	case OrderStatusPending:
		return "Pending Payment"
	case OrderStatusPaid:
		return "Payment Successful"
	case OrderStatusFailed:
		return "Payment Failed"
	default:
		return "Unknown"
	}
}

// IsValid reports whether s is a known status.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed:
		return true
	}
	return false
}

// Order represents a requested purchase awaiting or having completed payment.
type Order struct {
	ID        string
	UserID    string
	Amount    string // Currency prefix plus value, e.g. "$100" or "RON500.00"
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderDetails is an order together with its payment transaction.
type OrderDetails struct {
	Order       *Order
	Transaction *Transaction
}
