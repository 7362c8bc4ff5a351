package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"eventlens-server/modules/common/model"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb, Settings{
		BaseBackoff:  20 * time.Millisecond,
		MaxBackoff:   200 * time.Millisecond,
		StallTimeout: 100 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
}

func testPayload(mediaID string) *model.VariantJobPayload {
	return &model.VariantJobPayload{
		MediaID:  mediaID,
		EventID:  "evt-1",
		FilePath: "/tmp/" + mediaID + ".jpg",
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), VariantQueue, &model.VariantJobPayload{}, Options{})
	if err == nil {
		t.Fatal("expected validation error for empty payload")
	}
}

func TestClaimOrderFollowsPriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	lowFirst, _ := q.Enqueue(ctx, VariantQueue, testPayload("low-a"), Options{Priority: 3})
	lowSecond, _ := q.Enqueue(ctx, VariantQueue, testPayload("low-b"), Options{Priority: 3})
	high, _ := q.Enqueue(ctx, VariantQueue, testPayload("high"), Options{Priority: 10})

	want := []string{high, lowFirst, lowSecond}
	for i, expected := range want {
		job, err := q.claim(ctx, VariantQueue)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if job == nil {
			t.Fatalf("claim %d: queue unexpectedly empty", i)
		}
		if job.ID != expected {
			t.Errorf("claim %d: got job %s, want %s", i, job.ID, expected)
		}
	}
}

func TestConsumeCompletesJob(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan *model.VariantJobPayload, 1)
	go q.Consume(ctx, VariantQueue, 2, func(ctx context.Context, job *Job) error {
		var p model.VariantJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		done <- &p
		return nil
	})

	if _, err := q.Enqueue(ctx, VariantQueue, testPayload("m-1"), Options{Priority: 5}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case p := <-done:
		if p.MediaID != "m-1" {
			t.Errorf("got mediaId %s, want m-1", p.MediaID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	waitFor(t, time.Second, func() bool {
		stats, err := q.Stats(ctx, VariantQueue)
		return err == nil && stats.Waiting == 0 && stats.Active == 0 && stats.Failed == 0
	})
}

func TestRetryableFailureIsRequeuedWithBackoff(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	done := make(chan int, 1)
	go q.Consume(ctx, VariantQueue, 1, func(ctx context.Context, job *Job) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return Retryable(errors.New("upload timed out"))
		}
		done <- job.Attempts
		return nil
	})

	if _, err := q.Enqueue(ctx, VariantQueue, testPayload("m-retry"), Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case attempts := <-done:
		if attempts != 3 {
			t.Errorf("job completed on attempt %d, want 3", attempts)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("job never succeeded (calls: %d)", atomic.LoadInt32(&calls))
	}
}

func TestFatalErrorFailsWithoutRetry(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	go q.Consume(ctx, VariantQueue, 1, func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&calls, 1)
		return Fatal(errors.New("corrupt image"))
	})

	if _, err := q.Enqueue(ctx, VariantQueue, testPayload("m-corrupt"), Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		stats, err := q.Stats(ctx, VariantQueue)
		return err == nil && stats.Failed == 1
	})

	// give any spurious retry a chance to run before asserting
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("handler called %d times, want exactly 1", n)
	}
}

func TestExhaustedRetriesAreTerminal(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	go q.Consume(ctx, VariantQueue, 1, func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&calls, 1)
		return Retryable(errors.New("still broken"))
	})

	if _, err := q.Enqueue(ctx, VariantQueue, testPayload("m-doomed"), Options{MaxAttempts: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		stats, err := q.Stats(ctx, VariantQueue)
		return err == nil && stats.Failed == 1
	})

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("handler called %d times, want 3", n)
	}
}

func TestStalledJobIsReclaimed(t *testing.T) {
	q := newTestQueue(t)
	q.s.StallTimeout = 10 * time.Millisecond
	ctx := context.Background()

	id, err := q.Enqueue(ctx, VariantQueue, testPayload("m-stall"), Options{Priority: 7})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// claim the job and then abandon it, simulating a dead worker
	job, err := q.claim(ctx, VariantQueue)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := q.reclaimStalled(ctx, VariantQueue); err != nil {
		t.Fatalf("reclaimStalled: %v", err)
	}

	reclaimed, err := q.claim(ctx, VariantQueue)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != id {
		t.Fatalf("expected to reclaim job %s, got %v", id, reclaimed)
	}
	if reclaimed.Priority != 7 {
		t.Errorf("reclaimed job lost its priority: got %d, want 7", reclaimed.Priority)
	}
}

func TestStallBudgetBoundsReprocessing(t *testing.T) {
	q := newTestQueue(t)
	q.s.StallTimeout = 5 * time.Millisecond
	q.s.MaxStalls = 1
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, VariantQueue, testPayload("m-poison"), Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// first stall: reclaimed back to waiting
	if job, _ := q.claim(ctx, VariantQueue); job == nil {
		t.Fatal("first claim found no job")
	}
	time.Sleep(10 * time.Millisecond)
	if err := q.reclaimStalled(ctx, VariantQueue); err != nil {
		t.Fatalf("first reclaim: %v", err)
	}

	// second stall: budget exhausted, terminally failed
	if job, _ := q.claim(ctx, VariantQueue); job == nil {
		t.Fatal("second claim found no job")
	}
	time.Sleep(10 * time.Millisecond)
	if err := q.reclaimStalled(ctx, VariantQueue); err != nil {
		t.Fatalf("second reclaim: %v", err)
	}

	stats, err := q.Stats(ctx, VariantQueue)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("failed count = %d, want 1", stats.Failed)
	}
	if stats.Waiting != 0 {
		t.Errorf("waiting count = %d, want 0", stats.Waiting)
	}
}

func TestDelayedJobIsPromotedWhenDue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, VariantQueue, testPayload("m-delayed"), Options{Delay: 15 * time.Millisecond})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if job, _ := q.claim(ctx, VariantQueue); job != nil {
		t.Fatal("delayed job should not be claimable immediately")
	}

	time.Sleep(25 * time.Millisecond)
	if err := q.promoteDelayed(ctx, VariantQueue); err != nil {
		t.Fatalf("promoteDelayed: %v", err)
	}

	job, err := q.claim(ctx, VariantQueue)
	if err != nil || job == nil || job.ID != id {
		t.Fatalf("expected promoted job %s, got %v (err %v)", id, job, err)
	}
}
