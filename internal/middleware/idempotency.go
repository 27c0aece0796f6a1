package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"

	// completedTTL keeps a finished response replayable.
	completedTTL = 24 * time.Hour
	// reservationTTL bounds how long a crashed request can block its key.
	// It outlives the server write timeout.
	reservationTTL = 5 * time.Minute
)

const (
	recordInProgress = "in_progress"
	recordCompleted  = "completed"
)

// idempotencyRecord is stored under an Idempotency-Key. While the first
// request runs it only carries State; afterwards it holds the response.
type idempotencyRecord struct {
	State       string `json:"state"`
	StatusCode  int    `json:"status_code,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

const reservation = `{"state":"` + recordInProgress + `"}`

// capturingWriter copies the response body while it is written.
type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency makes mutating requests that carry an Idempotency-Key run at
// most once per key, method and path. The first request reserves the key
// with SETNX; a repeat is answered with the stored response once the first
// has finished, and with 409 while it is still running. A 5xx answer frees
// the key so the caller may try again.
//
// When Redis is unreachable requests run without the guarantee.
func Idempotency(client redis.Cmdable) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		redisKey := "idempotency:" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key

		reserved, err := client.SetNX(ctx, redisKey, reservation, reservationTTL).Result()
		if err != nil {
			log.Printf("[IDEMPOTENCY] Reserve %s failed: %v; running without replay protection", redisKey, err)
			c.Next()
			return
		}

		if !reserved {
			answerRepeat(ctx, c, client, redisKey)
			return
		}

		w := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		// The request is finished; store or release even if the caller left.
		storeCtx := context.WithoutCancel(ctx)
		status := w.Status()
		if status >= http.StatusInternalServerError {
			if err := client.Del(storeCtx, redisKey).Err(); err != nil {
				log.Printf("[IDEMPOTENCY] Release %s failed: %v", redisKey, err)
			}
			return
		}

		record, err := json.Marshal(idempotencyRecord{
			State:       recordCompleted,
			StatusCode:  status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		})
		if err == nil {
			err = client.Set(storeCtx, redisKey, string(record), completedTTL).Err()
		}
		if err != nil {
			log.Printf("[IDEMPOTENCY] Store %s failed: %v", redisKey, err)
		}
	}
}

// answerRepeat replies to a request whose key is already reserved.
func answerRepeat(ctx context.Context, c *gin.Context, client redis.Cmdable, redisKey string) {
	data, err := client.Get(ctx, redisKey).Bytes()

	var record idempotencyRecord
	if err == nil {
		err = json.Unmarshal(data, &record)
	}

	switch {
	case errors.Is(err, redis.Nil), err == nil && record.State != recordCompleted:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"status":  "error",
			"message": "A request with this Idempotency-Key is already being processed.",
		})
	case err != nil:
		log.Printf("[IDEMPOTENCY] Load %s failed: %v", redisKey, err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "Could not check the Idempotency-Key. Please retry.",
		})
	default:
		contentType := record.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		c.Header("Idempotent-Replayed", "true")
		c.Data(record.StatusCode, contentType, record.Body)
		c.Abort()
	}
}
