package model

import (
	"fmt"
	"time"
)

// JobPayload - tagged union of queue payloads, validated at enqueue time
type JobPayload interface {
	Validate() error
}

// VariantJobPayload - payload of a "process-image" job
type VariantJobPayload struct {
	MediaID          string `json:"mediaId"`
	EventID          string `json:"eventId"`
	AlbumID          string `json:"albumId,omitempty"`
	FilePath         string `json:"filePath"`
	OriginalFilename string `json:"originalFilename"`
	FileSize         int64  `json:"fileSize"`
	MimeType         string `json:"mimeType"`
	UploaderID       string `json:"uploaderId"`
	UploaderName     string `json:"uploaderName,omitempty"`
}

// Validate - checked at enqueue time so malformed payloads never reach a worker
func (p *VariantJobPayload) Validate() error {
	if p.MediaID == "" {
		return fmt.Errorf("mediaId is required")
	}
	if p.EventID == "" {
		return fmt.Errorf("eventId is required")
	}
	if p.FilePath == "" {
		return fmt.Errorf("filePath is required")
	}
	return nil
}

// CleanupJobPayload - payload of a "delete-files" job
type CleanupJobPayload struct {
	MediaID    string   `json:"mediaId"`
	EventID    string   `json:"eventId"`
	URLs       []string `json:"urls"`
	UploaderID string   `json:"uploaderId,omitempty"`
	IsBulk     bool     `json:"isBulk"`
}

func (p *CleanupJobPayload) Validate() error {
	if p.MediaID == "" {
		return fmt.Errorf("mediaId is required")
	}
	if p.EventID == "" {
		return fmt.Errorf("eventId is required")
	}
	if len(p.URLs) == 0 {
		return fmt.Errorf("urls must not be empty")
	}
	return nil
}

// ImageVariant - one resized/re-encoded derivative of an original
type ImageVariant struct {
	URL    string  `json:"url"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	SizeMB float64 `json:"sizeMb"`
	Format string  `json:"format"`
}

// FailedDeletionRecord - residue of a cleanup job, kept 7 days for a retry sweep
type FailedDeletionRecord struct {
	MediaID    string    `json:"mediaId"`
	FailedURLs []string  `json:"failedUrls"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retryCount"`
}

// EventMedia - event_media table row (the processing sub-record owned by the
// pipeline plus the identity columns the producer boundary needs)
type EventMedia struct {
	MediaID          string         `json:"media_id"`
	EventID          string         `json:"event_id"`
	AlbumID          *string        `json:"album_id"`
	UploaderID       *string        `json:"uploader_id"`
	OriginalFilename *string        `json:"original_filename"`
	OriginalURL      *string        `json:"original_url"`
	PreviewURL       *string        `json:"preview_url"`
	ProcessingStatus string         `json:"processing_status"`
	ProcessingStage  string         `json:"processing_stage"`
	Progress         int            `json:"progress_percentage"`
	Variants         []ImageVariant `json:"variants"`
	VariantsCount    int            `json:"variants_count"`
	ErrorMessage     *string        `json:"error_message"`
	CreatedAt        time.Time      `json:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
}

// Processing status values
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Processing stage values, in lifecycle order
const (
	StageUploading        = "uploading"
	StagePreviewCreating  = "preview_creating"
	StageProcessing       = "processing"
	StageVariantsCreating = "variants_creating"
	StageFinalizing       = "finalizing"
	StageCompleted        = "completed"
	StageFailed           = "failed"
)
