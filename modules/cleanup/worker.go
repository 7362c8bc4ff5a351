package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"eventlens-server/modules/broadcast"
	"eventlens-server/modules/common/model"
	"eventlens-server/modules/common/queue"
	"eventlens-server/modules/common/storage"
)

const (
	deleteRetries    = 3
	deleteRetryDelay = 500 * time.Millisecond

	ledgerKeyPrefix = "failed_deletions:"
	ledgerTTL       = 7 * 24 * time.Hour
)

// ObjectStore - the listing/deletion half of the storage gateway
type ObjectStore interface {
	ListFolder(ctx context.Context, prefix string) ([]storage.Object, error)
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
}

// Worker - consumes "delete-files" jobs and removes every remote object that
// belongs to the media item. Deletion is idempotent: objects that are already
// gone count as done, residue lands in the Redis ledger instead of blocking
// the job forever.
type Worker struct {
	objects ObjectStore
	rdb     *redis.Client
	caster  broadcast.Broadcaster

	batchSize  int
	batchDelay time.Duration
}

func NewWorker(objects ObjectStore, rdb *redis.Client, caster broadcast.Broadcaster, batchSize int, batchDelay time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = 4
	}
	if batchDelay <= 0 {
		batchDelay = time.Second
	}
	return &Worker{objects: objects, rdb: rdb, caster: caster, batchSize: batchSize, batchDelay: batchDelay}
}

// Result - outcome tally of one cleanup run
type Result struct {
	Deleted        int
	AlreadyDeleted int
	Failed         []string
}

func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var p model.CleanupJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.Fatal(fmt.Errorf("malformed cleanup payload: %w", err))
	}

	log.Printf("🗑️  Cleaning up media %s (event %s): %d recorded URLs", p.MediaID, p.EventID, len(p.URLs))

	result, err := w.clean(ctx, &p, job.Attempts >= job.MaxAttempts)
	if err != nil {
		return err
	}

	if len(result.Failed) > 0 {
		w.recordFailedDeletions(ctx, p.MediaID, result.Failed)
	}
	w.caster.PublishRemoved(p.MediaID, p.EventID)

	log.Printf("🗑️  Media %s cleanup done: %d deleted, %d already gone, %d failed",
		p.MediaID, result.Deleted, result.AlreadyDeleted, len(result.Failed))
	return nil
}

// clean - list what actually exists, match the recorded URLs against it, then
// delete in bounded batches. A listing failure means we cannot tell present
// from absent, so the whole job retries.
func (w *Worker) clean(ctx context.Context, p *model.CleanupJobPayload, lastAttempt bool) (*Result, error) {
	objectPaths, err := w.listEventObjects(ctx, p.EventID)
	if err != nil {
		if lastAttempt {
			w.recordFailedDeletions(ctx, p.MediaID, p.URLs)
		}
		return nil, fmt.Errorf("listing event %s folders: %w", p.EventID, err)
	}

	result := &Result{}
	var targets []target
	for _, raw := range p.URLs {
		path, ok := objectPaths[storage.NormalizeURL(raw)]
		if !ok {
			result.AlreadyDeleted++
			continue
		}
		targets = append(targets, target{url: raw, path: path})
	}

	for start := 0; start < len(targets); start += w.batchSize {
		end := start + w.batchSize
		if end > len(targets) {
			end = len(targets)
		}
		w.deleteBatch(ctx, targets[start:end], result)

		if end < len(targets) {
			sleepCtx(ctx, w.batchDelay)
		}
	}
	return result, nil
}

type target struct {
	url  string
	path string
}

// listEventObjects - normalized public URL → storage path for every object
// currently stored under the event's content folders
func (w *Worker) listEventObjects(ctx context.Context, eventID string) (map[string]string, error) {
	paths := make(map[string]string)
	for _, prefix := range storage.ContentDirs(eventID) {
		objects, err := w.objects.ListFolder(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			path := prefix + "/" + obj.Name
			paths[storage.NormalizeURL(w.objects.PublicURL(path))] = path
		}
	}
	return paths, nil
}

func (w *Worker) deleteBatch(ctx context.Context, batch []target, result *Result) {
	var wg sync.WaitGroup
	var mutex sync.Mutex

	for _, t := range batch {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			err := w.deleteOne(ctx, t.path)

			mutex.Lock()
			defer mutex.Unlock()
			switch {
			case err == nil:
				result.Deleted++
			case storage.IsNotFound(err):
				result.AlreadyDeleted++
			default:
				log.Printf("⚠️  Failed to delete %s: %v", t.path, err)
				result.Failed = append(result.Failed, t.url)
			}
		}(t)
	}
	wg.Wait()
}

// deleteOne - a single object delete with bounded in-place retries on
// transient storage errors
func (w *Worker) deleteOne(ctx context.Context, path string) error {
	var err error
	for try := 1; try <= deleteRetries; try++ {
		err = w.objects.Delete(ctx, path)
		if err == nil || !storage.IsTransient(err) {
			return err
		}
		if try < deleteRetries {
			sleepCtx(ctx, time.Duration(try)*deleteRetryDelay)
		}
	}
	return err
}

// recordFailedDeletions - append the residue to the media's ledger entry so a
// later sweep can retry it; the entry expires on its own after 7 days
func (w *Worker) recordFailedDeletions(ctx context.Context, mediaID string, urls []string) {
	key := ledgerKeyPrefix + mediaID
	record := model.FailedDeletionRecord{
		MediaID:    mediaID,
		FailedURLs: urls,
		Timestamp:  time.Now(),
		RetryCount: 1,
	}
	if raw, err := w.rdb.Get(ctx, key).Bytes(); err == nil {
		var previous model.FailedDeletionRecord
		if json.Unmarshal(raw, &previous) == nil {
			record.RetryCount = previous.RetryCount + 1
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("⚠️  Failed to encode deletion ledger for %s: %v", mediaID, err)
		return
	}
	if err := w.rdb.Set(ctx, key, data, ledgerTTL).Err(); err != nil {
		log.Printf("⚠️  Failed to write deletion ledger for %s: %v", mediaID, err)
		return
	}
	log.Printf("📒 Recorded %d failed deletions for media %s (retry %d)", len(urls), mediaID, record.RetryCount)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
