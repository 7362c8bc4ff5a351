package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Consume - claim and run jobs from one queue until ctx is cancelled. At most
// `concurrency` handlers run at once; a slot is held before a job is claimed
// so a claimed job never sits on an expired lease waiting for capacity.
func (q *Queue) Consume(ctx context.Context, name string, concurrency int, handler Handler) {
	if concurrency < 1 {
		concurrency = 1
	}
	log.Printf("👀 [%s] Consuming with concurrency %d", name, concurrency)

	sem := make(chan struct{}, concurrency)
	lastSweep := time.Time{}

	for {
		if ctx.Err() != nil {
			return
		}

		// Housekeeping once per poll interval: promote due delayed jobs and
		// reclaim expired leases.
		if time.Since(lastSweep) >= q.s.PollInterval {
			if err := q.promoteDelayed(ctx, name); err != nil && ctx.Err() == nil {
				log.Printf("❌ [%s] Failed to promote delayed jobs: %v", name, err)
			}
			if err := q.reclaimStalled(ctx, name); err != nil && ctx.Err() == nil {
				log.Printf("❌ [%s] Failed to reclaim stalled jobs: %v", name, err)
			}
			lastSweep = time.Now()
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		job, err := q.claim(ctx, name)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return
			}
			log.Printf("❌ [%s] Claim error: %v", name, err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}
		if job == nil {
			<-sem
			sleepCtx(ctx, q.s.PollInterval)
			continue
		}

		go func(job *Job) {
			defer func() { <-sem }()
			q.run(ctx, name, job, handler)
		}(job)
	}
}

// claim - pop the highest-priority waiting job and take its lease; nil when
// the queue is empty
func (q *Queue) claim(ctx context.Context, name string) (*Job, error) {
	popped, err := q.rdb.ZPopMin(ctx, waitingKey(name), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(popped) == 0 {
		return nil, nil
	}

	id, _ := popped[0].Member.(string)
	job, err := q.readJob(ctx, name, id)
	if err != nil {
		return nil, err
	}

	attempts, err := q.rdb.HIncrBy(ctx, jobKey(name, id), "attempts", 1).Result()
	if err != nil {
		return nil, err
	}
	job.Attempts = int(attempts)

	lease := time.Now().Add(q.s.StallTimeout).UnixMilli()
	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, jobKey(name, id), "state", StateActive)
	pipe.ZAdd(ctx, activeKey(name), redis.Z{Score: float64(lease), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	log.Printf("🎯 [%s] Claimed job %s (attempt %d/%d)", name, id, job.Attempts, job.MaxAttempts)
	return job, nil
}

// run - execute the handler and settle the job
func (q *Queue) run(ctx context.Context, name string, job *Job, handler Handler) {
	err := func() (handlerErr error) {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = Retryable(fmt.Errorf("panic in handler: %v", r))
			}
		}()
		return handler(ctx, job)
	}()

	if err == nil {
		q.complete(ctx, name, job)
		return
	}
	q.fail(ctx, name, job, err)
}

// complete - drop the lease and retire the job record shortly after
func (q *Queue) complete(ctx context.Context, name string, job *Job) {
	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, activeKey(name), job.ID)
	pipe.HSet(ctx, jobKey(name, job.ID), "state", StateCompleted)
	pipe.Expire(ctx, jobKey(name, job.ID), time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("❌ [%s] Failed to complete job %s: %v", name, job.ID, err)
		return
	}
	log.Printf("✅ [%s] Job %s completed", name, job.ID)
}

// fail - requeue with backoff, or terminally fail when the error is fatal or
// attempts are exhausted
func (q *Queue) fail(ctx context.Context, name string, job *Job, jobErr error) {
	if IsFatal(jobErr) || job.Attempts >= job.MaxAttempts {
		q.failTerminal(ctx, name, job.ID, jobErr.Error())
		return
	}

	delay := time.Duration(job.Attempts) * q.s.BaseBackoff
	if delay > q.s.MaxBackoff {
		delay = q.s.MaxBackoff
	}
	readyAt := time.Now().Add(delay).UnixMilli()

	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, activeKey(name), job.ID)
	pipe.HSet(ctx, jobKey(name, job.ID), "state", StateDelayed, "lastError", jobErr.Error())
	pipe.ZAdd(ctx, delayedKey(name), redis.Z{Score: float64(readyAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("❌ [%s] Failed to requeue job %s: %v", name, job.ID, err)
		return
	}
	log.Printf("🔁 [%s] Job %s failed (attempt %d/%d), retrying in %v: %v",
		name, job.ID, job.Attempts, job.MaxAttempts, delay, jobErr)
}

// failTerminal - move the job to the capped failed list, retained briefly for
// operator inspection
func (q *Queue) failTerminal(ctx context.Context, name, id, message string) {
	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, activeKey(name), id)
	pipe.HSet(ctx, jobKey(name, id), "state", StateFailed, "lastError", message, "failedAt", time.Now().UnixMilli())
	pipe.Expire(ctx, jobKey(name, id), q.s.RetentionAge)
	pipe.LPush(ctx, failedKey(name), id)
	pipe.LTrim(ctx, failedKey(name), 0, q.s.RetentionCount-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("❌ [%s] Failed to record terminal failure of job %s: %v", name, id, err)
		return
	}
	log.Printf("💀 [%s] Job %s terminally failed: %s", name, id, message)
}

// promoteDelayed - move due delayed jobs back into the waiting set
func (q *Queue) promoteDelayed(ctx context.Context, name string) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := q.rdb.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}

	for _, id := range due {
		removed, err := q.rdb.ZRem(ctx, delayedKey(name), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			// another worker promoted it first
			continue
		}
		priority, _ := q.rdb.HGet(ctx, jobKey(name, id), "priority").Int()
		if err := q.rdb.HSet(ctx, jobKey(name, id), "state", StateWaiting).Err(); err != nil {
			return err
		}
		if err := q.pushWaiting(ctx, name, id, priority); err != nil {
			return err
		}
	}
	return nil
}

// reclaimStalled - requeue jobs whose lease expired with the owner gone. Each
// reclaim burns one unit of the stall budget; beyond it the job is treated as
// poisonous and terminally failed.
func (q *Queue) reclaimStalled(ctx context.Context, name string) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	expired, err := q.rdb.ZRangeByScore(ctx, activeKey(name), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}

	for _, id := range expired {
		removed, err := q.rdb.ZRem(ctx, activeKey(name), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}

		stalls, err := q.rdb.HIncrBy(ctx, jobKey(name, id), "stalls", 1).Result()
		if err != nil {
			return err
		}
		if int(stalls) > q.s.MaxStalls {
			q.failTerminal(ctx, name, id, fmt.Sprintf("stalled %d times, giving up", stalls))
			continue
		}

		log.Printf("⏰ [%s] Reclaiming stalled job %s (stall %d/%d)", name, id, stalls, q.s.MaxStalls)
		priority, _ := q.rdb.HGet(ctx, jobKey(name, id), "priority").Int()
		if err := q.rdb.HSet(ctx, jobKey(name, id), "state", StateWaiting).Err(); err != nil {
			return err
		}
		if err := q.pushWaiting(ctx, name, id, priority); err != nil {
			return err
		}
	}
	return nil
}

// sleepCtx - interruptible sleep
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
