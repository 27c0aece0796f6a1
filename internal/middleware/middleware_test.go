package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"orderpay/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequireBearer(t *testing.T) {
	tests := []struct {
		name   string
		header string
		code   int
		token  string
	}{
		{"valid", "Bearer abc123", http.StatusOK, "abc123"},
		{"lowercase scheme", "bearer abc123", http.StatusOK, "abc123"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc123", http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			var got string
			router.POST("/pay", RequireBearer(), func(c *gin.Context) {
				got = BearerToken(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/pay", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
			if got != tt.token {
				t.Errorf("expected token %q, got %q", tt.token, got)
			}
		})
	}
}

type stubLimiter struct {
	hits  int
	limit int
	err   error
}

func (l *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	if l.err != nil {
		return false, 0, l.err
	}
	l.hits++
	remaining := limit - l.hits
	if remaining < 0 {
		remaining = 0
	}
	return l.hits <= limit, remaining, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &stubLimiter{}
	router := gin.New()
	router.GET("/x", RateLimit(limiter, "api", 2, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, rec.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: expected %d, got %d", i+1, want[i], codes[i])
		}
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	router := gin.New()
	router.GET("/x", RateLimit(&stubLimiter{err: errors.New("redis down")}, "api", 1, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected request allowed when limiter fails, got %d", rec.Code)
	}
}

const testIdempotencyKey = "idempotency:POST:/api/orders:key-1"

func postWithKey(router *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"amount":"$100"}`))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_FirstRequestReservesAndStores(t *testing.T) {
	db, mock := redismock.NewClientMock()

	stored, _ := json.Marshal(idempotencyRecord{
		State:       recordCompleted,
		StatusCode:  http.StatusCreated,
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(`{"status":"success"}`),
	})
	mock.ExpectSetNX(testIdempotencyKey, reservation, reservationTTL).SetVal(true)
	mock.ExpectSet(testIdempotencyKey, string(stored), completedTTL).SetVal("OK")

	calls := 0
	router := gin.New()
	router.Use(Idempotency(db))
	router.POST("/api/orders", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"status": "success"})
	})

	rec := postWithKey(router, "key-1")

	if calls != 1 || rec.Code != http.StatusCreated {
		t.Fatalf("expected handler to run once with 201, got %d calls and %d", calls, rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIdempotency_RepeatedKey(t *testing.T) {
	completed, _ := json.Marshal(idempotencyRecord{
		State:       recordCompleted,
		StatusCode:  http.StatusCreated,
		ContentType: "application/json; charset=utf-8",
		Body:        []byte(`{"status":"success","message":"Order created."}`),
	})

	tests := []struct {
		name       string
		stored     string
		getErr     error
		nilGet     bool
		wantStatus int
		wantReplay bool
	}{
		{name: "finished request is replayed", stored: string(completed), wantStatus: http.StatusCreated, wantReplay: true},
		{name: "running request conflicts", stored: reservation, wantStatus: http.StatusConflict},
		{name: "reservation vanished conflicts", nilGet: true, wantStatus: http.StatusConflict},
		{name: "unreadable record", getErr: errors.New("connection reset"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			mock.ExpectSetNX(testIdempotencyKey, reservation, reservationTTL).SetVal(false)
			get := mock.ExpectGet(testIdempotencyKey)
			switch {
			case tt.nilGet:
				get.RedisNil()
			case tt.getErr != nil:
				get.SetErr(tt.getErr)
			default:
				get.SetVal(tt.stored)
			}

			calls := 0
			router := gin.New()
			router.Use(Idempotency(db))
			router.POST("/api/orders", func(c *gin.Context) {
				calls++
				c.Status(http.StatusCreated)
			})

			rec := postWithKey(router, "key-1")

			if calls != 0 {
				t.Errorf("expected handler not to run for a repeated key, ran %d times", calls)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if replayed := rec.Header().Get("Idempotent-Replayed") == "true"; replayed != tt.wantReplay {
				t.Errorf("expected replayed=%v, got %v", tt.wantReplay, replayed)
			}
			if tt.wantReplay && !strings.Contains(rec.Body.String(), "Order created.") {
				t.Errorf("expected stored body, got %s", rec.Body.String())
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestIdempotency_ServerErrorReleasesKey(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectSetNX(testIdempotencyKey, reservation, reservationTTL).SetVal(true)
	mock.ExpectDel(testIdempotencyKey).SetVal(1)

	router := gin.New()
	router.Use(Idempotency(db))
	router.POST("/api/orders", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
	})

	if rec := postWithKey(router, "key-1"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIdempotency_RunsHandlerWithoutKeyOrRedis(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectSetNX(testIdempotencyKey, reservation, reservationTTL).SetErr(errors.New("connection refused"))

	calls := 0
	router := gin.New()
	router.Use(Idempotency(db))
	router.POST("/api/orders", func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	})
	router.GET("/api/orders", func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	})

	postWithKey(router, "")
	postWithKey(router, "key-1")
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Idempotency-Key", "key-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	if calls != 3 {
		t.Errorf("expected handler to run for every request, ran %d times", calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMetrics_RecordsRoute(t *testing.T) {
	m := metrics.NewServerMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Metrics(m))
	router.GET("/api/orders/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/abc", nil))

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("/api/orders/:id", "GET", "404")); got != 1 {
		t.Errorf("expected 1 recorded request, got %v", got)
	}
}
