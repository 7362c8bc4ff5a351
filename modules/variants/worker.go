package variants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"

	"eventlens-server/modules/broadcast"
	"eventlens-server/modules/common/model"
	"eventlens-server/modules/common/queue"
	"eventlens-server/modules/common/storage"
	"eventlens-server/modules/common/transform"
)

// MediaStore - the metadata writes the variant worker owns
type MediaStore interface {
	MarkProcessing(ctx context.Context, mediaID string) error
	SaveCompleted(ctx context.Context, mediaID, originalURL, previewURL string, variants []model.ImageVariant) error
	MarkFailed(ctx context.Context, mediaID, message string) error
}

// ObjectStore - the upload half of the storage gateway
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, dir, fileName, contentType string) (string, error)
}

// Worker - consumes "process-image" jobs: one upload in, six variants plus
// preview and original out
type Worker struct {
	store   MediaStore
	objects ObjectStore
	caster  broadcast.Broadcaster
}

func NewWorker(store MediaStore, objects ObjectStore, caster broadcast.Broadcaster) *Worker {
	return &Worker{store: store, objects: objects, caster: caster}
}

// progressPublisher - clamps published percentages so they never decrease
// within one processing attempt
type progressPublisher struct {
	caster     broadcast.Broadcaster
	mediaID    string
	eventID    string
	uploadedBy string

	mutex sync.Mutex
	last  int
}

func (p *progressPublisher) publish(stage string, percentage int) {
	p.mutex.Lock()
	if percentage < p.last {
		percentage = p.last
	}
	p.last = percentage
	p.mutex.Unlock()

	p.caster.PublishProgress(p.mediaID, p.eventID, stage, percentage, p.uploadedBy)
}

// Handle - the queue handler. Local recovery (temp file removal, failure
// status, broadcast) always runs before an error propagates to the harness.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var p model.VariantJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.Fatal(fmt.Errorf("malformed variant payload: %w", err))
	}

	log.Printf("🎨 ========== Processing media %s (event %s) ==========", p.MediaID, p.EventID)

	// the temp file must survive transient failures so a retry can re-read
	// it; it is removed on success and on any terminal outcome
	lastAttempt := job.Attempts >= job.MaxAttempts
	prog := &progressPublisher{caster: w.caster, mediaID: p.MediaID, eventID: p.EventID, uploadedBy: p.UploaderName}
	if prog.uploadedBy == "" {
		prog.uploadedBy = p.UploaderID
	}

	if err := w.store.MarkProcessing(ctx, p.MediaID); err != nil {
		return w.fail(ctx, &p, err, false, lastAttempt)
	}
	prog.publish(model.StageUploading, 5)

	data, err := os.ReadFile(p.FilePath)
	if err != nil {
		// a missing or unreadable local file will not heal on retry
		return w.fail(ctx, &p, fmt.Errorf("failed to read uploaded file: %w", err), true, lastAttempt)
	}
	prog.publish(model.StageUploading, 10)

	img, err := transform.Decode(data)
	if err != nil {
		return w.fail(ctx, &p, err, true, lastAttempt)
	}

	// preview first so event screens get a frame quickly
	prog.publish(model.StagePreviewCreating, 30)
	previewURL, err := w.uploadPreview(ctx, &p, img)
	if err != nil {
		return w.fail(ctx, &p, err, queue.IsFatal(err), lastAttempt)
	}

	prog.publish(model.StageProcessing, 30)
	originalURL, results, err := w.generateAndUpload(ctx, &p, data, img, prog)
	if err != nil {
		return w.fail(ctx, &p, err, queue.IsFatal(err), lastAttempt)
	}

	prog.publish(model.StageFinalizing, 85)
	if err := w.store.SaveCompleted(ctx, p.MediaID, originalURL, previewURL, results.variants); err != nil {
		return w.fail(ctx, &p, err, false, lastAttempt)
	}

	w.removeTempFile(p.FilePath)
	w.caster.PublishCompleted(p.MediaID, p.EventID, originalURL, results.urls)

	log.Printf("🎉 ========== Media %s completed: %d variants ==========", p.MediaID, len(results.variants))
	return nil
}

func (w *Worker) uploadPreview(ctx context.Context, p *model.VariantJobPayload, img image.Image) (string, error) {
	res, err := transform.Render(img, transform.Preview)
	if err != nil {
		return "", queue.Fatal(fmt.Errorf("preview render failed: %w", err))
	}
	url, err := w.objects.Upload(ctx, res.Data, storage.PreviewsDir(p.EventID), transform.Preview.FileName(p.MediaID), transform.Preview.ContentType())
	if err != nil {
		return "", fmt.Errorf("preview upload failed: %w", err)
	}
	return url, nil
}

// variantResults - everything the parallel phase produced
type variantResults struct {
	variants []model.ImageVariant
	urls     map[string]string
}

// generateAndUpload - render and upload all variants concurrently while the
// untouched original uploads alongside them. Parallelism here is bounded by
// the fixed variant count, independent of the queue's concurrency knob.
func (w *Worker) generateAndUpload(ctx context.Context, p *model.VariantJobPayload, original []byte, img image.Image, prog *progressPublisher) (string, *variantResults, error) {
	results := &variantResults{urls: make(map[string]string, len(transform.Variants))}

	var (
		wg          sync.WaitGroup
		mutex       sync.Mutex
		originalURL string
		completed   int
		errs        []error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		contentType := p.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		url, err := w.objects.Upload(ctx, original, storage.OriginalsDir(p.EventID), originalFileName(p), contentType)
		mutex.Lock()
		defer mutex.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("original upload failed: %w", err))
			return
		}
		originalURL = url
	}()

	for _, spec := range transform.Variants {
		wg.Add(1)
		go func(spec transform.Spec) {
			defer wg.Done()

			res, err := transform.Render(img, spec)
			if err != nil {
				mutex.Lock()
				errs = append(errs, queue.Fatal(fmt.Errorf("%s %s render failed: %w", spec.SizeName, spec.Format, err)))
				mutex.Unlock()
				return
			}

			url, err := w.objects.Upload(ctx, res.Data, storage.VariantsDir(p.EventID, spec.SizeName), spec.FileName(p.MediaID), spec.ContentType())

			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s upload failed: %w", spec.SizeName, spec.Format, err))
				return
			}
			results.variants = append(results.variants, model.ImageVariant{
				URL:    url,
				Width:  res.Width,
				Height: res.Height,
				SizeMB: float64(len(res.Data)) / (1024 * 1024),
				Format: spec.Format,
			})
			results.urls[spec.SizeName+"_"+spec.Format] = url
			completed++
			prog.publish(model.StageVariantsCreating, 30+completed*50/len(transform.Variants))
		}(spec)
	}

	wg.Wait()

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		for _, err := range errs {
			if queue.IsFatal(err) {
				return "", nil, queue.Fatal(joined)
			}
		}
		return "", nil, joined
	}
	return originalURL, results, nil
}

// fail - persist failure state, emit a best-effort broadcast, clean up when
// the outcome is terminal, then hand the classified error to the harness
func (w *Worker) fail(ctx context.Context, p *model.VariantJobPayload, cause error, fatal, lastAttempt bool) error {
	log.Printf("❌ Media %s processing failed: %v", p.MediaID, cause)

	if err := w.store.MarkFailed(ctx, p.MediaID, cause.Error()); err != nil {
		log.Printf("⚠️  Additionally failed to persist failure for %s: %v", p.MediaID, err)
	}
	w.caster.PublishFailed(p.MediaID, p.EventID, cause.Error())

	if fatal || lastAttempt {
		w.removeTempFile(p.FilePath)
	}
	if fatal {
		return queue.Fatal(cause)
	}
	return queue.Retryable(cause)
}

func (w *Worker) removeTempFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️  Failed to remove temp file %s: %v", path, err)
	}
}

// originalFileName - deterministic remote name for the untouched original
func originalFileName(p *model.VariantJobPayload) string {
	ext := filepath.Ext(p.OriginalFilename)
	if ext == "" {
		ext = ".jpg"
	}
	return p.MediaID + ext
}
