package tests

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"orderpay/internal/domain"
	"orderpay/internal/gateway"
	"orderpay/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK STORE
// ──────────────────────────────────────────────

// MockStore is an in-memory repository.Store. WithinTx runs one function at
// a time and restores the previous state when it returns an error.
type MockStore struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	orders       map[string]*domain.Order
	transactions map[string]*domain.Transaction

	// Counters for verification
	CreateOrderCallCount   int32
	UpdateStatusCallCount  int32
	RecordAttemptCallCount int32
	WithinTxCallCount      int32

	// Error injection
	CreateOrderError       error
	CreateTransactionError error
	UpdateStatusError      error
	RecordAttemptError     error
	GetOrderError          error
}

// NewMockStore creates a new mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		orders:       make(map[string]*domain.Order),
		transactions: make(map[string]*domain.Transaction),
	}
}

// AddOrder adds an order, and its transaction when txn is not nil.
func (m *MockStore) AddOrder(order *domain.Order, txn *domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	if txn != nil {
		m.transactions[txn.ID] = txn
	}
}

// Order returns a copy of an order for test assertions.
func (m *MockStore) Order(id string) *domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	c := *o
	return &c
}

// TransactionFor returns a copy of an order's transaction for test assertions.
func (m *MockStore) TransactionFor(orderID string) *domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.transactions {
		if t.OrderID == orderID {
			c := *t
			return &c
		}
	}
	return nil
}

// Counts returns the number of stored orders and transactions.
func (m *MockStore) Counts() (orders, transactions int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders), len(m.transactions)
}

func (m *MockStore) Orders() repository.OrderRepository {
	return &mockOrderRepository{m}
}

func (m *MockStore) Transactions() repository.TransactionRepository {
	return &mockTransactionRepository{m}
}

func (m *MockStore) WithinTx(ctx context.Context, fn func(tx repository.Repositories) error) error {
	atomic.AddInt32(&m.WithinTxCallCount, 1)

	m.txMu.Lock()
	defer m.txMu.Unlock()

	orders, txns := m.snapshot()
	if err := fn(m); err != nil {
		m.mu.Lock()
		m.orders, m.transactions = orders, txns
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MockStore) snapshot() (map[string]*domain.Order, map[string]*domain.Transaction) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make(map[string]*domain.Order, len(m.orders))
	for id, o := range m.orders {
		c := *o
		orders[id] = &c
	}
	txns := make(map[string]*domain.Transaction, len(m.transactions))
	for id, t := range m.transactions {
		c := *t
		txns[id] = &c
	}
	return orders, txns
}

type mockOrderRepository struct {
	m *MockStore
}

func (r *mockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	atomic.AddInt32(&r.m.CreateOrderCallCount, 1)
	if r.m.CreateOrderError != nil {
		return r.m.CreateOrderError
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *order
	r.m.orders[order.ID] = &c
	return nil
}

func (r *mockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if r.m.GetOrderError != nil {
		return nil, r.m.GetOrderError
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	o, ok := r.m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	c := *o
	return &c, nil
}

func (r *mockOrderRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *mockOrderRepository) GetAll(ctx context.Context) ([]*domain.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	result := make([]*domain.Order, 0, len(r.m.orders))
	for _, o := range r.m.orders {
		c := *o
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *mockOrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	atomic.AddInt32(&r.m.UpdateStatusCallCount, 1)
	if r.m.UpdateStatusError != nil {
		return r.m.UpdateStatusError
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

type mockTransactionRepository struct {
	m *MockStore
}

func (r *mockTransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	if r.m.CreateTransactionError != nil {
		return r.m.CreateTransactionError
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *txn
	r.m.transactions[txn.ID] = &c
	return nil
}

func (r *mockTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.transactions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *mockTransactionRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, t := range r.m.transactions {
		if t.OrderID == orderID {
			c := *t
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *mockTransactionRepository) RecordAttempt(ctx context.Context, id string, status domain.OrderStatus, responseData string) error {
	atomic.AddInt32(&r.m.RecordAttemptCallCount, 1)
	if r.m.RecordAttemptError != nil {
		return r.m.RecordAttemptError
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.transactions[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Status = status
	t.ResponseData = responseData
	t.Attempts++
	t.UpdatedAt = time.Now()
	return nil
}

// ──────────────────────────────────────────────
// MOCK GATEWAY
// ──────────────────────────────────────────────

// MockGateway returns canned results in order, repeating the last one.
type MockGateway struct {
	mu      sync.Mutex
	results []gateway.Result

	// Block, when set, holds every Charge until it is closed.
	Block chan struct{}

	// OnCharge, when set, runs before the result is returned.
	OnCharge func(req domain.ChargeRequest)

	ChargeCallCount int32
	LastToken       string
	LastRequest     domain.ChargeRequest
}

// NewMockGateway creates a gateway answering with results.
func NewMockGateway(results ...gateway.Result) *MockGateway {
	return &MockGateway{results: results}
}

// Paid is a successful gateway result with the given body.
func Paid(body string) gateway.Result {
	return gateway.Result{Outcome: gateway.Success, Body: []byte(body), StatusCode: 200, Attempts: 1}
}

// Declined is a business failure result.
func Declined(reason string) gateway.Result {
	return gateway.Result{Outcome: gateway.BusinessFailure, Reason: reason, StatusCode: 402, Attempts: 1}
}

// TimedOut is a transport failure result after retries ran out.
func TimedOut() gateway.Result {
	return gateway.Result{
		Outcome:  gateway.TransportError,
		Reason:   "timeout: context deadline exceeded (after 3 attempts)",
		Attempts: 3,
		Cause:    context.DeadlineExceeded,
	}
}

func (g *MockGateway) Charge(ctx context.Context, token string, req domain.ChargeRequest) gateway.Result {
	atomic.AddInt32(&g.ChargeCallCount, 1)
	if g.Block != nil {
		<-g.Block
	}
	if g.OnCharge != nil {
		g.OnCharge(req)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.LastToken = token
	g.LastRequest = req

	if len(g.results) == 0 {
		return Declined("no result configured")
	}
	res := g.results[0]
	if len(g.results) > 1 {
		g.results = g.results[1:]
	}
	return res
}

// ──────────────────────────────────────────────
// MOCK SCHEDULER
// ──────────────────────────────────────────────

// MockScheduler records scheduled retry jobs.
type MockScheduler struct {
	mu     sync.Mutex
	jobs   []domain.RetryJob
	delays []time.Duration

	// Error injection
	ScheduleError error
}

// NewMockScheduler creates a new mock scheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

func (s *MockScheduler) ScheduleAfter(ctx context.Context, delay time.Duration, job domain.RetryJob) error {
	if s.ScheduleError != nil {
		return s.ScheduleError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.delays = append(s.delays, delay)
	return nil
}

// Jobs returns the scheduled jobs and their delays.
func (s *MockScheduler) Jobs() ([]domain.RetryJob, []time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RetryJob(nil), s.jobs...), append([]time.Duration(nil), s.delays...)
}

// ──────────────────────────────────────────────
// MOCK LOCKER
// ──────────────────────────────────────────────

// MockLocker is an in-memory per-order lock keyed by token.
type MockLocker struct {
	mu     sync.Mutex
	held   map[string]string
	tokens int

	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLocker creates a new mock locker.
func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]string)}
}

// Hold marks an order as locked by someone else.
func (l *MockLocker) Hold(orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[orderID] = "held-elsewhere"
}

// IsHeld reports whether an order is locked.
func (l *MockLocker) IsHeld(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[orderID]
	return ok
}

func (l *MockLocker) AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&l.AcquireCallCount, 1)
	if l.AcquireError != nil {
		return "", false, l.AcquireError
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[orderID]; ok {
		return "", false, nil
	}
	l.tokens++
	token := fmt.Sprintf("lock-token-%d", l.tokens)
	l.held[orderID] = token
	return token, true, nil
}

// ReleaseOrderLock releases the lock only when token still owns it.
func (l *MockLocker) ReleaseOrderLock(ctx context.Context, orderID, token string) error {
	atomic.AddInt32(&l.ReleaseCallCount, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[orderID] == token {
		delete(l.held, orderID)
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK PENDING RETRIES
// ──────────────────────────────────────────────

// MockPendingRetries is an in-memory pending retry marker.
type MockPendingRetries struct {
	mu  sync.Mutex
	due map[string]time.Time

	ClearCallCount int32

	// Error injection
	MarkError error
}

// NewMockPendingRetries creates a new mock marker store.
func NewMockPendingRetries() *MockPendingRetries {
	return &MockPendingRetries{due: make(map[string]time.Time)}
}

// IsPending reports whether an order has a marker.
func (p *MockPendingRetries) IsPending(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.due[orderID]
	return ok
}

func (p *MockPendingRetries) MarkPending(ctx context.Context, orderID string, dueAt time.Time, ttl time.Duration) (time.Time, bool, error) {
	if p.MarkError != nil {
		return time.Time{}, false, p.MarkError
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.due[orderID]; ok {
		return existing, false, nil
	}
	p.due[orderID] = dueAt
	return dueAt, true, nil
}

func (p *MockPendingRetries) ClearPending(ctx context.Context, orderID string) error {
	atomic.AddInt32(&p.ClearCallCount, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.due, orderID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK CACHE
// ──────────────────────────────────────────────

// MockCache is an in-memory order cache.
type MockCache struct {
	mu      sync.RWMutex
	entries map[string]*domain.OrderDetails

	GetCallCount        int32
	InvalidateCallCount int32
}

// NewMockCache creates a new mock cache.
func NewMockCache() *MockCache {
	return &MockCache{entries: make(map[string]*domain.OrderDetails)}
}

func (c *MockCache) GetOrderDetails(ctx context.Context, orderID string) (*domain.OrderDetails, error) {
	atomic.AddInt32(&c.GetCallCount, 1)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[orderID], nil
}

func (c *MockCache) SetOrderDetails(ctx context.Context, details *domain.OrderDetails) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[details.Order.ID] = details
	return nil
}

func (c *MockCache) InvalidateOrder(ctx context.Context, orderID string) error {
	atomic.AddInt32(&c.InvalidateCallCount, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orderID)
	return nil
}

// Has reports whether an order is cached.
func (c *MockCache) Has(orderID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[orderID]
	return ok
}
