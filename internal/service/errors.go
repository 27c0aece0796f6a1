package service

import "errors"

var (
	// ErrInvalidAmount is returned when an order amount is malformed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidOrderID is returned when order ID is empty.
	ErrInvalidOrderID = errors.New("invalid order id")

	// ErrInvalidTransactionID is returned when transaction ID is empty.
	ErrInvalidTransactionID = errors.New("invalid transaction id")

	// ErrMissingToken is returned when a payment is initiated without a bearer credential.
	ErrMissingToken = errors.New("missing authorization token")

	// ErrOrderNotFound is returned when the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrTransactionNotFound is returned when an order has no payment transaction.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrPaymentInProgress is returned when another attempt holds the order's lock.
	ErrPaymentInProgress = errors.New("payment already in progress for this order")
)
