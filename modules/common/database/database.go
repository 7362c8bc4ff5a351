package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/supabase-community/supabase-go"

	"eventlens-server/modules/common/config"
	"eventlens-server/modules/common/model"
)

const mediaTable = "event_media"

// expectedVariantCount - 3 size classes × 2 formats
const expectedVariantCount = 6

// Client - metadata store access for the pipeline. Every write to the
// processing sub-record is a full-state overwrite, so a stale retry's write is
// last-writer-wins rather than a partial merge.
type Client struct {
	supabase *supabase.Client
}

// NewClient - build the Supabase client from config
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Client{supabase: supabaseClient}, nil
}

// CreateProvisional - write the pending record when an upload lands, before
// the variant job is enqueued
func (c *Client) CreateProvisional(ctx context.Context, p *model.VariantJobPayload) error {
	log.Printf("💾 Creating provisional media record: %s", p.MediaID)

	insertData := map[string]interface{}{
		"media_id":            p.MediaID,
		"event_id":            p.EventID,
		"uploader_id":         p.UploaderID,
		"original_filename":   p.OriginalFilename,
		"file_size":           p.FileSize,
		"mime_type":           p.MimeType,
		"processing_status":   model.StatusPending,
		"processing_stage":    model.StageUploading,
		"progress_percentage": 0,
		"variants_generated":  false,
		"variants_count":      0,
	}
	if p.AlbumID != "" {
		insertData["album_id"] = p.AlbumID
	}

	_, _, err := c.supabase.From(mediaTable).
		Insert(insertData, false, "", "", "").
		Execute()

	if err != nil {
		return fmt.Errorf("failed to create media record: %w", err)
	}

	log.Printf("✅ Provisional record created: %s", p.MediaID)
	return nil
}

// MarkProcessing - processing attempt started; resets progress for the new
// attempt
func (c *Client) MarkProcessing(ctx context.Context, mediaID string) error {
	log.Printf("📝 Marking media %s as processing", mediaID)

	updateData := map[string]interface{}{
		"processing_status":   model.StatusProcessing,
		"processing_stage":    model.StageUploading,
		"progress_percentage": 5,
		"error_message":       nil,
		"started_at":          "now()",
	}

	_, _, err := c.supabase.From(mediaTable).
		Update(updateData, "", "").
		Eq("media_id", mediaID).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to mark media processing: %w", err)
	}
	return nil
}

// SaveCompleted - one full overwrite of the processing sub-record with every
// variant slot populated
func (c *Client) SaveCompleted(ctx context.Context, mediaID, originalURL, previewURL string, variants []model.ImageVariant) error {
	log.Printf("📝 Saving completed state for media %s (%d variants)", mediaID, len(variants))

	if len(variants) != expectedVariantCount {
		// data-quality warning, not a hard failure
		log.Printf("⚠️  Media %s completed with %d variants, expected %d", mediaID, len(variants), expectedVariantCount)
	}

	updateData := map[string]interface{}{
		"processing_status":   model.StatusCompleted,
		"processing_stage":    model.StageCompleted,
		"progress_percentage": 100,
		"original_url":        originalURL,
		"preview_url":         previewURL,
		"variants":            variants,
		"variants_generated":  len(variants) > 0,
		"variants_count":      len(variants),
		"error_message":       nil,
		"completed_at":        "now()",
	}

	_, _, err := c.supabase.From(mediaTable).
		Update(updateData, "", "").
		Eq("media_id", mediaID).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to save completed state: %w", err)
	}

	log.Printf("✅ Media %s marked completed", mediaID)
	return nil
}

// MarkFailed - failure state with the operator-visible message; viewers only
// ever see a generic failed signal via the broadcaster
func (c *Client) MarkFailed(ctx context.Context, mediaID, message string) error {
	log.Printf("📝 Marking media %s as failed: %s", mediaID, message)

	updateData := map[string]interface{}{
		"processing_status":   model.StatusFailed,
		"processing_stage":    model.StageFailed,
		"error_message":       message,
		"completed_at":        "now()",
	}

	_, _, err := c.supabase.From(mediaTable).
		Update(updateData, "", "").
		Eq("media_id", mediaID).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to mark media failed: %w", err)
	}
	return nil
}

// FetchMedia - load one media record; the delete handler collects its URL set
// from this
func (c *Client) FetchMedia(ctx context.Context, mediaID string) (*model.EventMedia, error) {
	log.Printf("🔍 Fetching media record: %s", mediaID)

	data, _, err := c.supabase.From(mediaTable).
		Select("*", "exact", false).
		Eq("media_id", mediaID).
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}

	var rows []model.EventMedia
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse media response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("media not found: %s", mediaID)
	}

	return &rows[0], nil
}

// MediaURLs - every remote object URL recorded for one media
func MediaURLs(media *model.EventMedia) []string {
	var urls []string
	if media.OriginalURL != nil && *media.OriginalURL != "" {
		urls = append(urls, *media.OriginalURL)
	}
	if media.PreviewURL != nil && *media.PreviewURL != "" {
		urls = append(urls, *media.PreviewURL)
	}
	for _, v := range media.Variants {
		if v.URL != "" {
			urls = append(urls, v.URL)
		}
	}
	return urls
}
