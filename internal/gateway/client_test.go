package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"orderpay/internal/domain"
)

var testCharge = domain.ChargeRequest{
	Amount:        100,
	Currency:      "USD",
	OrderID:       "order-1",
	PaymentMethod: domain.PaymentMethodCardVisa,
}

func newTestClient(url string, attempts int, timeout time.Duration) *Client {
	return NewClient(ClientConfig{
		URL:      url,
		Timeout:  timeout,
		Attempts: attempts,
		Backoff:  time.Millisecond,
	})
}

func TestClient_Charge_Success(t *testing.T) {
	var gotAuth string
	var gotBody domain.ChargeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"paid","message":"Payment succeeded.","transaction_id":"ch_1"}`))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL, 3, time.Second).Charge(context.Background(), "tok", testCharge)

	if !res.Succeeded() {
		t.Fatalf("expected success, got %s (%s)", res.Outcome, res.Reason)
	}
	if res.Err() != nil {
		t.Errorf("expected nil error on success, got %v", res.Err())
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotBody != testCharge {
		t.Errorf("expected body %+v, got %+v", testCharge, gotBody)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
}

func TestClient_Charge_DoesNotDoublePrefixBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"status":"paid"}`))
	}))
	defer srv.Close()

	newTestClient(srv.URL, 1, time.Second).Charge(context.Background(), "Bearer tok", testCharge)

	if gotAuth != "Bearer tok" {
		t.Errorf("expected single prefix, got %q", gotAuth)
	}
}

func TestClient_Charge_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		outcome  Outcome
		sentinel error
	}{
		{"declined 402", http.StatusPaymentRequired, `{"status":"failed","message":"Payment failed."}`, BusinessFailure, ErrDeclined},
		{"bad request", http.StatusBadRequest, `{"status":"failed"}`, BusinessFailure, ErrDeclined},
		{"not found", http.StatusNotFound, `{"status":"error","message":"Order not found."}`, BusinessFailure, ErrDeclined},
		{"2xx failed status", http.StatusOK, `{"status":"failed"}`, BusinessFailure, ErrDeclined},
		{"2xx unknown status", http.StatusOK, `{"status":"processing"}`, BusinessFailure, ErrDeclined},
		{"2xx not json", http.StatusOK, `<html>ok</html>`, BusinessFailure, ErrDeclined},
		{"2xx succeeded", http.StatusCreated, `{"status":"succeeded"}`, Success, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := newTestClient(srv.URL, 3, time.Second).Charge(context.Background(), "tok", testCharge)

			if res.Outcome != tt.outcome {
				t.Fatalf("expected %s, got %s (%s)", tt.outcome, res.Outcome, res.Reason)
			}
			if calls.Load() != 1 {
				t.Errorf("expected no retries, got %d calls", calls.Load())
			}
			if tt.sentinel != nil && !errors.Is(res.Err(), tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, res.Err())
			}
			if tt.outcome != Success && res.Reason == "" {
				t.Error("expected a failure reason")
			}
		})
	}
}

func TestClient_Charge_ReasonIsValidUTF8(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rune split at cut", http.StatusOK, strings.Repeat("a", 255) + "é tail"},
		{"nul bytes", http.StatusOK, "<html>\x00ok\x00</html>"},
		{"invalid bytes", http.StatusOK, "ok \xff\xfe done"},
		{"nul in message", http.StatusPaymentRequired, `{"status":"failed","message":"card\u0000declined"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := newTestClient(srv.URL, 1, time.Second).Charge(context.Background(), "tok", testCharge)

			if res.Outcome != BusinessFailure {
				t.Fatalf("expected business failure, got %s", res.Outcome)
			}
			if !utf8.ValidString(res.Reason) {
				t.Errorf("reason is not valid UTF-8: %q", res.Reason)
			}
			if strings.Contains(res.Reason, "\x00") {
				t.Errorf("reason contains NUL: %q", res.Reason)
			}
		})
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("a", 255) + "é tail"

	got := truncate(s, 256)
	if got != strings.Repeat("a", 255)+"..." {
		t.Errorf("unexpected cut %q", got)
	}
	if got := truncate("short", 256); got != "short" {
		t.Errorf("expected short input unchanged, got %q", got)
	}
}

func TestClient_Charge_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"paid"}`))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL, 3, time.Second).Charge(context.Background(), "tok", testCharge)

	if !res.Succeeded() {
		t.Fatalf("expected success on third attempt, got %s", res.Outcome)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
}

func TestClient_Charge_ServerErrorsExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := newTestClient(srv.URL, 3, time.Second).Charge(context.Background(), "tok", testCharge)

	if res.Outcome != TransportError {
		t.Fatalf("expected transport error, got %s", res.Outcome)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if !errors.Is(res.Err(), ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", res.Err())
	}

	var gwErr *Error
	if !errors.As(res.Err(), &gwErr) || gwErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected *Error with status 503, got %v", res.Err())
	}
}

func TestClient_Charge_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := newTestClient(srv.URL, 2, 50*time.Millisecond).Charge(context.Background(), "tok", testCharge)

	if res.Outcome != TransportError {
		t.Fatalf("expected transport error, got %s", res.Outcome)
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
	if res.Cause == nil {
		t.Error("expected underlying cause")
	}
}

func TestClient_Charge_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestClient(url, 2, time.Second).Charge(context.Background(), "tok", testCharge)

	if res.Outcome != TransportError {
		t.Fatalf("expected transport error, got %s", res.Outcome)
	}
}

func TestClient_Charge_ContextCancelledStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{URL: srv.URL, Timeout: time.Second, Attempts: 5, Backoff: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res := client.Charge(ctx, "tok", testCharge)

	if res.Outcome != TransportError {
		t.Fatalf("expected transport error, got %s", res.Outcome)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call before cancellation, got %d", calls.Load())
	}
}

func TestSimulator_Charge(t *testing.T) {
	paid := NewSimulator(FixedDecider(true)).Charge(context.Background(), "", testCharge)
	if !paid.Succeeded() {
		t.Errorf("expected success, got %s", paid.Outcome)
	}

	failed := NewSimulator(FixedDecider(false)).Charge(context.Background(), "", testCharge)
	if failed.Outcome != BusinessFailure {
		t.Errorf("expected business failure, got %s", failed.Outcome)
	}
	if failed.StatusCode != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", failed.StatusCode)
	}
	if failed.Reason != "Payment failed." {
		t.Errorf("unexpected reason %q", failed.Reason)
	}
}

func TestDeciderForMode(t *testing.T) {
	ctx := context.Background()
	if !DeciderForMode(ModeAlwaysPaid)(ctx, testCharge) {
		t.Error("always_paid should approve")
	}
	if DeciderForMode(ModeAlwaysFailed)(ctx, testCharge) {
		t.Error("always_failed should decline")
	}
	if DeciderForMode("bogus") == nil {
		t.Error("unknown mode should fall back to random")
	}
}
