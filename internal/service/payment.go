package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"orderpay/internal/domain"
	"orderpay/internal/gateway"
	"orderpay/internal/repository"
)

// PaymentGateway charges an order with the payment provider.
type PaymentGateway interface {
	Charge(ctx context.Context, token string, req domain.ChargeRequest) gateway.Result
}

// RetryScheduler runs a payment retry job once, after delay.
type RetryScheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, job domain.RetryJob) error
}

// OrderLocker provides per-order mutual exclusion across processes.
// AcquireOrderLock returns a token that ReleaseOrderLock must present.
type OrderLocker interface {
	AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (string, bool, error)
	ReleaseOrderLock(ctx context.Context, orderID, token string) error
}

// PendingRetries remembers which orders already have a retry queued.
// MarkPending returns the recorded due time and false when one exists.
type PendingRetries interface {
	MarkPending(ctx context.Context, orderID string, dueAt time.Time, ttl time.Duration) (time.Time, bool, error)
	ClearPending(ctx context.Context, orderID string) error
}

// OrderCache caches order reads. Get returns nil, nil on a miss.
type OrderCache interface {
	GetOrderDetails(ctx context.Context, orderID string) (*domain.OrderDetails, error)
	SetOrderDetails(ctx context.Context, details *domain.OrderDetails) error
	InvalidateOrder(ctx context.Context, orderID string) error
}

const (
	scheduleTimeout = 5 * time.Second

	// pendingGrace keeps the pending marker alive past the due time while
	// the job waits for a worker.
	pendingGrace = 30 * time.Minute
)

// PaymentConfig holds the state machine's policy settings.
type PaymentConfig struct {
	Method       string
	RetryDelay   time.Duration
	MaxRetries   int // 0 means unbounded
	LockTTL      time.Duration
	ServiceToken string
}

// PaymentDeps are the collaborators of a PaymentService. Cache, Pending and
// Reporter are optional; RetryGateway defaults to Gateway.
type PaymentDeps struct {
	Store        repository.Store
	Gateway      PaymentGateway
	RetryGateway PaymentGateway
	Scheduler    RetryScheduler
	Locker       OrderLocker
	Cache        OrderCache
	Pending      PendingRetries
	Reporter     *OutcomeReporter
	Config       PaymentConfig
}

// PaymentService moves orders from pending to paid or failed and schedules
// delayed retries for failed payments.
type PaymentService struct {
	store        repository.Store
	gateway      PaymentGateway
	retryGateway PaymentGateway
	scheduler    RetryScheduler
	locker       OrderLocker
	cache        OrderCache
	pending      PendingRetries
	reporter     *OutcomeReporter
	cfg          PaymentConfig

	now   func() time.Time
	newID func() string
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(deps PaymentDeps) *PaymentService {
	retryGateway := deps.RetryGateway
	if retryGateway == nil {
		retryGateway = deps.Gateway
	}

	cfg := deps.Config
	if cfg.Method == "" {
		cfg.Method = domain.PaymentMethodCardVisa
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * time.Minute
	}

	return &PaymentService{
		store:        deps.Store,
		gateway:      deps.Gateway,
		retryGateway: retryGateway,
		scheduler:    deps.Scheduler,
		locker:       deps.Locker,
		cache:        deps.Cache,
		pending:      deps.Pending,
		reporter:     deps.Reporter,
		cfg:          cfg,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// SetClock replaces the service clock. Intended for tests.
func (s *PaymentService) SetClock(now func() time.Time) {
	s.now = now
}

// InitiatePaymentRequest contains the parameters for initiating a payment.
type InitiatePaymentRequest struct {
	OrderID string
	Token   string
}

// PaymentResult is the outcome of one payment attempt.
type PaymentResult struct {
	Order       *domain.Order
	Transaction *domain.Transaction

	// AlreadyPaid is set when the order was paid before this attempt; no
	// charge was made.
	AlreadyPaid bool

	Outcome gateway.Outcome
	Reason  string

	// RetryScheduled is set when a delayed retry is queued for the order,
	// either by this attempt or by an earlier one. ScheduleErr holds the
	// cause when it could not be queued.
	RetryScheduled bool
	RetryAt        time.Time
	ScheduleErr    error
}

// Paid reports whether the order ended up paid.
func (r *PaymentResult) Paid() bool {
	return r.Order != nil && r.Order.Status == domain.OrderStatusPaid
}

// Initiate charges an order on behalf of the caller holding token.
//
// Gateway failures never surface as errors: they are recorded as a failed
// attempt and a retry is scheduled. Errors are returned only for invalid
// input, missing records, a concurrent attempt, or persistence faults.
func (s *PaymentService) Initiate(ctx context.Context, req InitiatePaymentRequest) (*PaymentResult, error) {
	if req.OrderID == "" {
		return nil, ErrInvalidOrderID
	}
	if req.Token == "" {
		return nil, ErrMissingToken
	}

	// An attempt runs to completion once started, even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	return s.attempt(ctx, attemptParams{
		orderID: req.OrderID,
		token:   req.Token,
		gateway: s.gateway,
		trigger: TriggerInteractive,
	})
}

// Retry executes a scheduled retry job with the background gateway profile.
//
// A returned error means the job could not be processed and should be
// redelivered. Jobs that are obsolete or malformed are dropped with nil.
func (s *PaymentService) Retry(ctx context.Context, job domain.RetryJob) error {
	if job.OrderID == "" {
		s.reporter.RetryDropped(ctx, job, "malformed")
		return nil
	}

	ctx = context.WithoutCancel(ctx)

	// This job is no longer waiting; a failure below queues the next one.
	s.clearPending(ctx, job.OrderID)

	if s.cfg.MaxRetries > 0 && job.Attempt-1 > s.cfg.MaxRetries {
		s.reporter.RetryDropped(ctx, job, "retry_limit")
		return nil
	}

	params := attemptParams{
		orderID: job.OrderID,
		token:   s.cfg.ServiceToken,
		gateway: s.retryGateway,
		trigger: TriggerRetry,
		attempt: job.Attempt,
	}
	if job.Payment.OrderID == job.OrderID {
		payment := job.Payment
		params.payment = &payment
	}

	result, err := s.attempt(ctx, params)
	switch {
	case errors.Is(err, ErrPaymentInProgress):
		s.reporter.RetryDropped(ctx, job, "in_progress")
		return nil
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrTransactionNotFound):
		s.reporter.RetryDropped(ctx, job, "not_found")
		return nil
	case err != nil:
		return err
	case result.AlreadyPaid:
		s.reporter.RetryDropped(ctx, job, "already_paid")
		return nil
	}

	return nil
}

type attemptParams struct {
	orderID string
	token   string
	gateway PaymentGateway
	trigger Trigger
	attempt int                   // Attempt number; 0 derives it from the transaction
	payment *domain.ChargeRequest // Prepared payload; nil builds it from the order
}

func (s *PaymentService) attempt(ctx context.Context, p attemptParams) (*PaymentResult, error) {
	lockToken, acquired, err := s.locker.AcquireOrderLock(ctx, p.orderID, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock for order %s: %w", p.orderID, err)
	}
	if !acquired {
		return nil, ErrPaymentInProgress
	}
	defer func() {
		if err := s.locker.ReleaseOrderLock(ctx, p.orderID, lockToken); err != nil {
			log.Printf("[PAYMENT] Failed to release lock for order %s: %v", p.orderID, err)
		}
	}()

	order, txn, err := s.load(ctx, p.orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusPaid {
		return &PaymentResult{Order: order, Transaction: txn, AlreadyPaid: true}, nil
	}

	attempt := p.attempt
	if attempt <= 0 {
		attempt = txn.Attempts + 1
	}

	var charge domain.ChargeRequest
	if p.payment != nil {
		charge = *p.payment
	} else {
		charge, err = domain.NewChargeRequest(order, s.cfg.Method)
		if err != nil {
			return nil, fmt.Errorf("build charge for order %s: %w", order.ID, err)
		}
	}

	res := p.gateway.Charge(ctx, p.token, charge)

	result, err := s.resolve(ctx, order, txn, res)
	if err != nil {
		return nil, err
	}
	if result.AlreadyPaid {
		return result, nil
	}

	if s.cache != nil {
		if err := s.cache.InvalidateOrder(ctx, order.ID); err != nil {
			log.Printf("[PAYMENT] Failed to invalidate cache for order %s: %v", order.ID, err)
		}
	}

	s.reporter.Resolved(ctx, Resolution{
		OrderID:         order.ID,
		TransactionID:   txn.ID,
		Status:          result.Order.Status,
		Outcome:         res.Outcome,
		Reason:          res.Reason,
		Attempt:         attempt,
		GatewayAttempts: res.Attempts,
		Trigger:         p.trigger,
		ResolvedAt:      s.now(),
	})

	if !result.Paid() {
		s.scheduleRetry(ctx, result, charge, attempt)
	}

	return result, nil
}

// load fetches an order and its transaction without mutating either.
func (s *PaymentService) load(ctx context.Context, orderID string) (*domain.Order, *domain.Transaction, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, err
	}

	txn, err := s.store.Transactions().GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrTransactionNotFound
		}
		return nil, nil, err
	}

	return order, txn, nil
}

// resolve persists the gateway outcome to both records in one database
// transaction. A paid order is never moved back to failed.
func (s *PaymentService) resolve(ctx context.Context, order *domain.Order, txn *domain.Transaction, res gateway.Result) (*PaymentResult, error) {
	status := domain.OrderStatusFailed
	responseData := res.Reason
	if res.Succeeded() {
		status = domain.OrderStatusPaid
		responseData = string(res.Body)
	}
	responseData = gateway.CleanText(responseData)

	var superseded bool
	err := s.store.WithinTx(ctx, func(tx repository.Repositories) error {
		current, err := tx.Orders().GetByIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status == domain.OrderStatusPaid {
			superseded = true
			return nil
		}

		if err := tx.Orders().UpdateStatus(ctx, order.ID, status); err != nil {
			return err
		}
		return tx.Transactions().RecordAttempt(ctx, txn.ID, status, responseData)
	})
	if err != nil {
		log.Printf("[PAYMENT] Failed to persist %s outcome for order %s: %v", status, order.ID, err)
		return nil, fmt.Errorf("persist payment outcome for order %s: %w", order.ID, err)
	}

	if superseded {
		order.Status = domain.OrderStatusPaid
		return &PaymentResult{Order: order, Transaction: txn, AlreadyPaid: true}, nil
	}

	now := s.now()
	order.Status = status
	order.UpdatedAt = now
	txn.Status = status
	txn.ResponseData = responseData
	txn.Attempts++
	txn.UpdatedAt = now

	return &PaymentResult{
		Order:       order,
		Transaction: txn,
		Outcome:     res.Outcome,
		Reason:      res.Reason,
	}, nil
}

// scheduleRetry queues the next attempt unless one is already queued for
// the order. Failure to schedule is reported and recorded on the result; it
// is never retried here.
func (s *PaymentService) scheduleRetry(ctx context.Context, result *PaymentResult, charge domain.ChargeRequest, attempt int) {
	job := domain.RetryJob{
		ID:      s.newID(),
		OrderID: result.Order.ID,
		Payment: charge,
		Attempt: attempt + 1,
	}

	if s.cfg.MaxRetries > 0 && attempt > s.cfg.MaxRetries {
		log.Printf("[PAYMENT] Order %s reached the retry limit (%d); no further automatic attempts", job.OrderID, s.cfg.MaxRetries)
		return
	}

	scheduleCtx, cancel := context.WithTimeout(ctx, scheduleTimeout)
	defer cancel()

	dueAt := s.now().Add(s.cfg.RetryDelay)
	marked := false
	if s.pending != nil {
		existing, ok, err := s.pending.MarkPending(scheduleCtx, job.OrderID, dueAt, s.cfg.RetryDelay+pendingGrace)
		switch {
		case err != nil:
			log.Printf("[PAYMENT] Failed to check pending retry for order %s: %v", job.OrderID, err)
		case !ok:
			log.Printf("[PAYMENT] Order %s already has a retry due at %s; not scheduling another", job.OrderID, existing.Format(time.RFC3339))
			result.RetryScheduled = true
			result.RetryAt = existing
			return
		default:
			marked = true
		}
	}

	if err := s.scheduler.ScheduleAfter(scheduleCtx, s.cfg.RetryDelay, job); err != nil {
		if marked {
			s.clearPending(ctx, job.OrderID)
		}
		result.ScheduleErr = err
		s.reporter.SchedulingFailed(ctx, job, err)
		return
	}

	result.RetryScheduled = true
	result.RetryAt = dueAt
	s.reporter.RetryScheduled(ctx, job, result.RetryAt)
}

func (s *PaymentService) clearPending(ctx context.Context, orderID string) {
	if s.pending == nil {
		return
	}
	if err := s.pending.ClearPending(ctx, orderID); err != nil {
		log.Printf("[PAYMENT] Failed to clear pending retry for order %s: %v", orderID, err)
	}
}
