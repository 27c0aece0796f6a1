package domain

import "time"

// Transaction is the provider-facing record of an order's payment attempts.
// There is exactly one transaction per order.
type Transaction struct {
	ID              string
	OrderID         string
	PaymentProvider string
	Status          OrderStatus
	ResponseData    string // Raw provider body on success, failure reason otherwise
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
