package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"eventlens-server/modules/common/model"
)

// Queue names shared by producers and workers
const (
	VariantQueue = "process-image"
	CleanupQueue = "delete-files"
)

// Job states stored in the job hash
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateDelayed   = "delayed"
)

// Priority ordering inside the waiting set: score = -priority*prioritySpan + seq,
// so a higher priority always sorts before a lower one and equal priorities
// stay approximately FIFO via the enqueue sequence number.
const prioritySpan = 1e12

// Settings - harness tuning; zero values fall back to defaults
type Settings struct {
	BaseBackoff    time.Duration // retry delay unit, attempt * BaseBackoff
	MaxBackoff     time.Duration
	StallTimeout   time.Duration // lease length before another worker may reclaim
	PollInterval   time.Duration
	MaxStalls      int           // reclaim budget before a poison job is failed
	RetentionCount int64         // terminally failed jobs kept for inspection
	RetentionAge   time.Duration
}

// Queue - durable, priority-ordered, at-least-once broker on Redis
type Queue struct {
	rdb *redis.Client
	s   Settings
}

// Options - per-job enqueue options
type Options struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int // default 3
}

// Job - the unit handed to a consumer
type Job struct {
	ID          string
	Queue       string
	Payload     []byte
	Priority    int
	Attempts    int
	MaxAttempts int
}

// Handler - returns nil on success; wrap errors with Fatal/Retryable to steer
// the harness
type Handler func(ctx context.Context, job *Job) error

// New - build the broker on an existing Redis connection
func New(rdb *redis.Client, s Settings) *Queue {
	if s.BaseBackoff <= 0 {
		s.BaseBackoff = 2500 * time.Millisecond
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = time.Minute
	}
	if s.StallTimeout <= 0 {
		s.StallTimeout = time.Minute
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 250 * time.Millisecond
	}
	if s.MaxStalls <= 0 {
		s.MaxStalls = 2
	}
	if s.RetentionCount <= 0 {
		s.RetentionCount = 100
	}
	if s.RetentionAge <= 0 {
		s.RetentionAge = 24 * time.Hour
	}
	return &Queue{rdb: rdb, s: s}
}

func seqKey(name string) string     { return "queue:" + name + ":seq" }
func waitingKey(name string) string { return "queue:" + name + ":waiting" }
func delayedKey(name string) string { return "queue:" + name + ":delayed" }
func activeKey(name string) string  { return "queue:" + name + ":active" }
func failedKey(name string) string  { return "queue:" + name + ":failed" }
func jobKey(name, id string) string { return "queue:" + name + ":job:" + id }

// Enqueue - validate, persist, and schedule a job; returns the job ID
func (q *Queue) Enqueue(ctx context.Context, name string, payload model.JobPayload, opts Options) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("invalid %s payload: %w", name, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}

	id := uuid.NewString()
	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}

	err = q.rdb.HSet(ctx, jobKey(name, id),
		"payload", string(data),
		"priority", opts.Priority,
		"attempts", 0,
		"maxAttempts", opts.MaxAttempts,
		"stalls", 0,
		"state", state,
		"createdAt", time.Now().UnixMilli(),
	).Err()
	if err != nil {
		return "", fmt.Errorf("failed to store job: %w", err)
	}

	if opts.Delay > 0 {
		readyAt := time.Now().Add(opts.Delay).UnixMilli()
		if err := q.rdb.ZAdd(ctx, delayedKey(name), redis.Z{Score: float64(readyAt), Member: id}).Err(); err != nil {
			return "", fmt.Errorf("failed to delay job: %w", err)
		}
	} else {
		if err := q.pushWaiting(ctx, name, id, opts.Priority); err != nil {
			return "", err
		}
	}

	log.Printf("📥 [%s] Job %s enqueued (priority: %d, delay: %v)", name, id, opts.Priority, opts.Delay)
	return id, nil
}

// pushWaiting - add to the priority-ordered waiting set
func (q *Queue) pushWaiting(ctx context.Context, name, id string, priority int) error {
	seq, err := q.rdb.Incr(ctx, seqKey(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}
	score := float64(-priority)*prioritySpan + float64(seq)
	if err := q.rdb.ZAdd(ctx, waitingKey(name), redis.Z{Score: score, Member: id}).Err(); err != nil {
		return fmt.Errorf("failed to push job to waiting set: %w", err)
	}
	return nil
}

// Stats - queue depth counters for the metrics endpoint
type Stats struct {
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
	Failed  int64 `json:"failed"`
}

func (q *Queue) Stats(ctx context.Context, name string) (*Stats, error) {
	waiting, err := q.rdb.ZCard(ctx, waitingKey(name)).Result()
	if err != nil {
		return nil, err
	}
	delayed, err := q.rdb.ZCard(ctx, delayedKey(name)).Result()
	if err != nil {
		return nil, err
	}
	active, err := q.rdb.ZCard(ctx, activeKey(name)).Result()
	if err != nil {
		return nil, err
	}
	failed, err := q.rdb.LLen(ctx, failedKey(name)).Result()
	if err != nil {
		return nil, err
	}
	return &Stats{Waiting: waiting, Delayed: delayed, Active: active, Failed: failed}, nil
}

// readJob - load the job hash into a Job
func (q *Queue) readJob(ctx context.Context, name, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, jobKey(name, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}

	job := &Job{ID: id, Queue: name, Payload: []byte(fields["payload"])}
	job.Priority, _ = strconv.Atoi(fields["priority"])
	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(fields["maxAttempts"])
	return job, nil
}
