package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"eventlens-server/modules/common/database"
	"eventlens-server/modules/common/model"
	"eventlens-server/modules/common/queue"
)

const maxUploadBytes = 64 << 20

// Enqueuer - the queue surface the HTTP boundary needs
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload model.JobPayload, opts queue.Options) (string, error)
}

// MediaStore - provisional record creation and URL lookup for deletes
type MediaStore interface {
	CreateProvisional(ctx context.Context, p *model.VariantJobPayload) error
	FetchMedia(ctx context.Context, mediaID string) (*model.EventMedia, error)
}

type Handler struct {
	queue   Enqueuer
	store   MediaStore
	tempDir string
}

func NewHandler(q Enqueuer, store MediaStore, tempDir string) *Handler {
	return &Handler{queue: q, store: store, tempDir: tempDir}
}

// RegisterRoutes - media intake endpoints
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/events/{eventId}/media", h.UploadMedia).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/media/{mediaId}/delete", h.DeleteMedia).Methods("POST", "OPTIONS")
	log.Println("✅ Media routes registered: /api/events/{eventId}/media, /api/media/{mediaId}/delete")
}

// UploadMedia - accept a multipart original, stage it on local disk, create
// the provisional record and queue the processing job. The HTTP request
// returns as soon as the job is durable, processing happens in the workers.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	eventID := mux.Vars(r)["eventId"]
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("Unsupported content type: %s", contentType))
		return
	}

	mediaID := uuid.New().String()
	tempPath, size, err := h.stageFile(mediaID, header.Filename, file)
	if err != nil {
		log.Printf("❌ Failed to stage upload: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to store uploaded file")
		return
	}

	payload := &model.VariantJobPayload{
		MediaID:          mediaID,
		EventID:          eventID,
		AlbumID:          r.FormValue("albumId"),
		FilePath:         tempPath,
		OriginalFilename: header.Filename,
		FileSize:         size,
		MimeType:         contentType,
		UploaderID:       r.FormValue("uploaderId"),
		UploaderName:     r.FormValue("uploaderName"),
	}

	if err := h.store.CreateProvisional(r.Context(), payload); err != nil {
		log.Printf("❌ Failed to create media record: %v", err)
		os.Remove(tempPath)
		writeError(w, http.StatusInternalServerError, "Failed to create media record")
		return
	}

	priority := VariantPriority(size)
	jobID, err := h.queue.Enqueue(r.Context(), queue.VariantQueue, payload, queue.Options{Priority: priority})
	if err != nil {
		log.Printf("❌ Failed to enqueue processing job: %v", err)
		os.Remove(tempPath)
		writeError(w, http.StatusInternalServerError, "Failed to queue media for processing")
		return
	}

	log.Printf("📸 Media %s queued for event %s (%.2f MB, priority %d, job %s)",
		mediaID, eventID, float64(size)/(1024*1024), priority, jobID)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(UploadResponse{
		Success:  true,
		MediaID:  mediaID,
		JobID:    jobID,
		Priority: priority,
		Message:  "Media accepted, variants are being generated",
	})
}

// DeleteMedia - queue deletion of every remote object belonging to a media
// item. URLs come from the request or, when omitted, from the media record.
func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	req.MediaID = mux.Vars(r)["mediaId"]
	if req.MediaID == "" || req.EventID == "" {
		writeError(w, http.StatusBadRequest, "mediaId and eventId are required")
		return
	}

	urls := req.URLs
	if len(urls) == 0 {
		media, err := h.store.FetchMedia(r.Context(), req.MediaID)
		if err != nil {
			log.Printf("❌ Failed to fetch media %s: %v", req.MediaID, err)
			writeError(w, http.StatusNotFound, "Media not found")
			return
		}
		urls = database.MediaURLs(media)
	}
	if len(urls) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "No stored URLs to delete")
		return
	}

	payload := &model.CleanupJobPayload{
		MediaID:    req.MediaID,
		EventID:    req.EventID,
		URLs:       urls,
		UploaderID: req.UploaderID,
		IsBulk:     req.IsBulk,
	}
	jobID, err := h.queue.Enqueue(r.Context(), queue.CleanupQueue, payload, queue.Options{Priority: CleanupPriority(req.IsBulk)})
	if err != nil {
		log.Printf("❌ Failed to enqueue cleanup job: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to queue deletion")
		return
	}

	log.Printf("🗑️  Media %s deletion queued (%d URLs, bulk: %v, job %s)", req.MediaID, len(urls), req.IsBulk, jobID)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(DeleteResponse{
		Success: true,
		MediaID: req.MediaID,
		JobID:   jobID,
		Message: fmt.Sprintf("Deletion queued for %d files", len(urls)),
	})
}

// stageFile - copy the upload into the temp dir under a deterministic name
func (h *Handler) stageFile(mediaID, originalName string, src io.Reader) (string, int64, error) {
	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return "", 0, err
	}
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = ".jpg"
	}
	path := filepath.Join(h.tempDir, mediaID+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, size, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
