// Package gateway talks to the external payment provider.
//
// A charge resolves to one of three outcomes: Success with the provider's
// body, BusinessFailure when the provider declined (or answered ambiguously),
// or TransportError when no usable answer arrived before retries ran out.
package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrDeclined marks an explicit or ambiguous rejection by the provider.
	ErrDeclined = errors.New("payment declined by provider")

	// ErrTransport marks network faults and timeouts that outlived retries.
	ErrTransport = errors.New("payment provider unreachable")
)

// Outcome classifies a charge attempt.
type Outcome int

const (
	Success Outcome = iota + 1
	BusinessFailure
	TransportError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case BusinessFailure:
		return "business_failure"
	case TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Charge call, after transport retries.
type Result struct {
	Outcome    Outcome
	Body       []byte // Provider response body, when one was received
	Reason     string // Failure description; empty on success
	StatusCode int    // Last HTTP status seen, 0 if none
	Attempts   int
	Cause      error // Underlying transport error, if any
}

// Succeeded reports whether the provider confirmed the charge.
func (r Result) Succeeded() bool {
	return r.Outcome == Success
}

// Err returns nil on success and a *Error describing the failure otherwise.
func (r Result) Err() error {
	if r.Outcome == Success {
		return nil
	}
	return &Error{Outcome: r.Outcome, Reason: r.Reason, StatusCode: r.StatusCode, Cause: r.Cause}
}

// Error wraps a failed charge.
type Error struct {
	Outcome    Outcome
	Reason     string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s (http %d): %s", e.Outcome, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("gateway %s: %s", e.Outcome, e.Reason)
}

// Unwrap exposes both the outcome sentinel and the transport cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Outcome {
	case BusinessFailure:
		errs = append(errs, ErrDeclined)
	case TransportError:
		errs = append(errs, ErrTransport)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
