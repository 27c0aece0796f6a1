package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/newrelic/go-agent/v3/newrelic"

	"orderpay/internal/domain"
)

const maxBodyBytes = 64 << 10

// ClientConfig configures a gateway Client.
type ClientConfig struct {
	URL       string
	Timeout   time.Duration // Per attempt
	Attempts  int           // Total tries on transport failure, at least 1
	Backoff   time.Duration // Fixed wait between tries
	Transport http.RoundTripper
}

// Client charges orders through the provider's HTTP endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// NewClient creates a gateway client. The transport is wrapped for New Relic
// external segments; without an active transaction the wrapper is a no-op.
func NewClient(cfg ClientConfig) *Client {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	return &Client{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newrelic.NewRoundTripper(transport),
		},
		attempts: attempts,
		backoff:  cfg.Backoff,
	}
}

// providerResponse is the subset of the provider body used for classification.
type providerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Charge sends the charge request with the given bearer credential.
//
// Network errors, timeouts and 5xx answers are retried up to the configured
// attempt count. Any 4xx answer is a business failure and is not retried.
func (c *Client) Charge(ctx context.Context, token string, req domain.ChargeRequest) Result {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{Outcome: BusinessFailure, Reason: fmt.Sprintf("encode charge request: %v", err), Cause: err}
	}

	var last Result
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := waitOrCancel(ctx, c.backoff); err != nil {
				last.Cause = err
				break
			}
		}

		last = c.do(ctx, token, payload)
		last.Attempts = attempt
		if last.Outcome != TransportError {
			return last
		}
	}

	last.Reason = fmt.Sprintf("%s (after %d attempts)", last.Reason, last.Attempts)
	return last
}

// do performs a single HTTP exchange and classifies it.
func (c *Client) do(ctx context.Context, token string, payload []byte) Result {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{Outcome: BusinessFailure, Reason: fmt.Sprintf("build request: %v", err), Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", bearer(token))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{Outcome: TransportError, Reason: describeTransportError(err), Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{Outcome: TransportError, StatusCode: resp.StatusCode, Reason: describeTransportError(err), Cause: err}
	}

	return classify(resp.StatusCode, body)
}

// classify maps an HTTP answer to an outcome. A 2xx answer only counts as
// success when the body confirms it; anything unclear is a failure.
func classify(statusCode int, body []byte) Result {
	res := Result{StatusCode: statusCode, Body: body}

	var parsed providerResponse
	parseErr := json.Unmarshal(body, &parsed)

	switch {
	case statusCode >= 500:
		res.Outcome = TransportError
		res.Reason = failureReason(statusCode, parsed, "provider unavailable")
	case statusCode >= 200 && statusCode < 300:
		if parseErr == nil && isPaidStatus(parsed.Status) {
			res.Outcome = Success
			return res
		}
		res.Outcome = BusinessFailure
		if parseErr == nil && isFailedStatus(parsed.Status) {
			res.Reason = failureReason(statusCode, parsed, "payment failed")
		} else {
			res.Reason = "ambiguous provider response: " + truncate(CleanText(string(body)), 256)
		}
	default:
		res.Outcome = BusinessFailure
		res.Reason = failureReason(statusCode, parsed, http.StatusText(statusCode))
	}

	res.Reason = CleanText(res.Reason)
	return res
}

func isPaidStatus(s string) bool {
	switch strings.ToLower(s) {
	case "paid", "succeeded", "success":
		return true
	}
	return false
}

func isFailedStatus(s string) bool {
	switch strings.ToLower(s) {
	case "failed", "declined", "error":
		return true
	}
	return false
}

func failureReason(statusCode int, parsed providerResponse, fallback string) string {
	if parsed.Message != "" {
		return parsed.Message
	}
	if fallback != "" {
		return fallback
	}
	return fmt.Sprintf("http status %d", statusCode)
}

func describeTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return "timeout: " + err.Error()
	}
	return err.Error()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func bearer(token string) string {
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return token
	}
	return "Bearer " + token
}

// CleanText makes provider text safe for a UTF-8 TEXT column: invalid
// sequences become U+FFFD and NUL bytes are dropped.
func CleanText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// waitOrCancel blocks for d or until ctx is done.
func waitOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
