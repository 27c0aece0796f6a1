package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"orderpay/internal/domain"
)

var queueNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testJobsKey = DefaultRetryQueueKey + ":jobs"

func newTestQueue(t *testing.T) (*RetryQueue, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	q := NewRetryQueue(db)
	q.now = func() time.Time { return queueNow }
	return q, mock
}

func testJob() domain.RetryJob {
	return domain.RetryJob{
		ID:      "job-1",
		OrderID: "o-1",
		Payment: domain.ChargeRequest{Amount: 100, Currency: "$", OrderID: "o-1", PaymentMethod: domain.PaymentMethodCardVisa},
		Attempt: 2,
	}
}

func expectClaim(mock redismock.ClientMock, at time.Time, visibility time.Duration, limit int64) *redismock.ExpectedCmd {
	now := at.UnixMilli()
	return mock.ExpectEvalSha(claimScript.Hash(),
		[]string{DefaultRetryQueueKey, testJobsKey},
		now, now+visibility.Milliseconds(), limit,
	)
}

func TestRetryQueue_ScheduleAfter(t *testing.T) {
	q, mock := newTestQueue(t)

	want := testJob()
	want.ScheduledAt = queueNow
	want.DueAt = queueNow.Add(5 * time.Minute)
	data, _ := json.Marshal(want)

	mock.ExpectHSet(testJobsKey, "job-1", string(data)).SetVal(1)
	mock.ExpectZAdd(DefaultRetryQueueKey, redis.Z{
		Score:  float64(want.DueAt.UnixMilli()),
		Member: "job-1",
	}).SetVal(1)

	if err := q.ScheduleAfter(context.Background(), 5*time.Minute, testJob()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRetryQueue_ScheduleAfter_Unavailable(t *testing.T) {
	q, mock := newTestQueue(t)

	want := testJob()
	want.ScheduledAt = queueNow
	want.DueAt = queueNow.Add(time.Minute)
	data, _ := json.Marshal(want)

	mock.ExpectHSet(testJobsKey, "job-1", string(data)).SetErr(errors.New("connection refused"))

	err := q.ScheduleAfter(context.Background(), time.Minute, testJob())
	if err == nil {
		t.Fatal("expected scheduling error")
	}
}

func TestRetryQueue_ClaimDue(t *testing.T) {
	q, mock := newTestQueue(t)

	job := testJob()
	job.DueAt = queueNow.Add(-time.Second)
	data, _ := json.Marshal(job)

	other := testJob()
	other.ID = "job-2"
	otherData, _ := json.Marshal(other)

	expectClaim(mock, queueNow, DefaultVisibilityTimeout, 10).SetVal([]interface{}{
		"job-1", string(data),
		"job-2", string(otherData),
		"job-3", "not-json",
	})
	// The undecodable job is removed instead of being handed out forever.
	mock.ExpectZRem(DefaultRetryQueueKey, "job-3").SetVal(1)
	mock.ExpectHDel(testJobsKey, "job-3").SetVal(1)

	jobs, err := q.ClaimDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 claimed jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "job-1" || jobs[0].Attempt != 2 || jobs[1].ID != "job-2" {
		t.Errorf("unexpected jobs %+v", jobs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRetryQueue_UnackedJobIsClaimedAgainAfterVisibilityTimeout(t *testing.T) {
	q, mock := newTestQueue(t)
	q.SetVisibilityTimeout(time.Minute)

	job := testJob()
	data, _ := json.Marshal(job)

	// First claim hides the job until queueNow+1m. The worker dies before
	// acking, so a claim after that point hands it out again.
	expectClaim(mock, queueNow, time.Minute, 10).SetVal([]interface{}{"job-1", string(data)})
	expectClaim(mock, queueNow.Add(30*time.Second), time.Minute, 10).SetVal([]interface{}{})
	later := queueNow.Add(61 * time.Second)
	expectClaim(mock, later, time.Minute, 10).SetVal([]interface{}{"job-1", string(data)})

	first, err := q.ClaimDue(context.Background(), 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected first claim, got %v, %v", first, err)
	}

	q.now = func() time.Time { return queueNow.Add(30 * time.Second) }
	hidden, err := q.ClaimDue(context.Background(), 10)
	if err != nil || len(hidden) != 0 {
		t.Fatalf("expected job hidden during visibility timeout, got %v, %v", hidden, err)
	}

	q.now = func() time.Time { return later }
	again, err := q.ClaimDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(again) != 1 || again[0].ID != "job-1" {
		t.Fatalf("expected job-1 to be reclaimed, got %+v", again)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRetryQueue_Ack(t *testing.T) {
	q, mock := newTestQueue(t)

	mock.ExpectZRem(DefaultRetryQueueKey, "job-1").SetVal(1)
	mock.ExpectHDel(testJobsKey, "job-1").SetVal(1)

	if err := q.Ack(context.Background(), "job-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRetryQueue_ClaimError(t *testing.T) {
	q, mock := newTestQueue(t)

	expectClaim(mock, queueNow, DefaultVisibilityTimeout, 5).SetErr(errors.New("connection refused"))

	if _, err := q.ClaimDue(context.Background(), 5); err == nil {
		t.Fatal("expected claim error")
	}
}
