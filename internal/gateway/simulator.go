package gateway

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"

	"github.com/google/uuid"

	"orderpay/internal/domain"
)

// Simulator modes.
const (
	ModeRandom       = "random"
	ModeAlwaysPaid   = "always_paid"
	ModeAlwaysFailed = "always_failed"
)

// Decider decides whether a simulated charge succeeds.
type Decider func(ctx context.Context, req domain.ChargeRequest) bool

// RandomDecider approves roughly half of all charges.
func RandomDecider() Decider {
	return func(context.Context, domain.ChargeRequest) bool {
		return rand.IntN(2) == 1
	}
}

// FixedDecider always returns paid.
func FixedDecider(paid bool) Decider {
	return func(context.Context, domain.ChargeRequest) bool {
		return paid
	}
}

// DeciderForMode maps a configured mode to a Decider. Unknown modes fall
// back to random.
func DeciderForMode(mode string) Decider {
	switch mode {
	case ModeAlwaysPaid:
		return FixedDecider(true)
	case ModeAlwaysFailed:
		return FixedDecider(false)
	default:
		return RandomDecider()
	}
}

// SimulatedResponse is the body served by the simulated provider.
type SimulatedResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Simulator stands in for the payment provider. It never touches orders or
// transactions; the caller owns all state changes.
type Simulator struct {
	decide Decider
	newID  func() string
}

// NewSimulator creates a simulator. A nil decider means random.
func NewSimulator(decide Decider) *Simulator {
	if decide == nil {
		decide = RandomDecider()
	}
	return &Simulator{
		decide: decide,
		newID: func() string {
			return "sim_" + uuid.NewString()
		},
	}
}

// Respond produces the HTTP status and body the simulated provider answers
// with for req.
func (s *Simulator) Respond(ctx context.Context, req domain.ChargeRequest) (int, SimulatedResponse) {
	if s.decide(ctx, req) {
		return http.StatusOK, SimulatedResponse{
			Status:        "paid",
			Message:       "Payment succeeded.",
			TransactionID: s.newID(),
		}
	}
	return http.StatusPaymentRequired, SimulatedResponse{
		Status:  "failed",
		Message: "Payment failed.",
	}
}

// Charge resolves a charge in-process, classifying the simulated answer the
// same way the HTTP client does.
func (s *Simulator) Charge(ctx context.Context, _ string, req domain.ChargeRequest) Result {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: TransportError, Reason: describeTransportError(err), Cause: err, Attempts: 1}
	}

	status, resp := s.Respond(ctx, req)
	body, err := json.Marshal(resp)
	if err != nil {
		return Result{Outcome: BusinessFailure, Reason: err.Error(), Cause: err, Attempts: 1}
	}

	res := classify(status, body)
	res.Attempts = 1
	return res
}
