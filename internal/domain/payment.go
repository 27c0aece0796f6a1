package domain

import "time"

// PaymentMethodCardVisa is the payment method tag sent with every charge.
const PaymentMethodCardVisa = "card_visa"

// ChargeRequest is the payload sent to the payment provider's charge endpoint.
type ChargeRequest struct {
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	OrderID       string  `json:"order_id"`
	PaymentMethod string  `json:"payment_method"`
}

// NewChargeRequest builds the charge payload for an order.
func NewChargeRequest(order *Order, paymentMethod string) (ChargeRequest, error) {
	amount, err := ParseAmount(order.Amount)
	if err != nil {
		return ChargeRequest{}, err
	}

	return ChargeRequest{
		Amount:        amount.Float64(),
		Currency:      amount.Currency,
		OrderID:       order.ID,
		PaymentMethod: paymentMethod,
	}, nil
}

// RetryJob is a delayed re-attempt of an order's payment.
type RetryJob struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"order_id"`
	Payment     ChargeRequest `json:"payment"`
	Attempt     int           `json:"attempt"` // Attempt number this job will run as
	ScheduledAt time.Time     `json:"scheduled_at"`
	DueAt       time.Time     `json:"due_at"`
}
