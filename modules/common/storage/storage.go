package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// listPageSize - objects per listing request; listing paginates until a short
// page comes back
const listPageSize = 100

// Client - thin adapter over the Supabase Storage HTTP API. Uploads use
// deterministic names with overwrite enabled, so re-running a job replaces
// objects instead of duplicating them.
type Client struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

// Object - one listed remote object; ID is the store's internal identifier
// that is never persisted locally
type Object struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// New - gateway against one bucket
func New(baseURL, serviceKey, bucket string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, path)
}

// PublicURL - CDN-facing URL of an object path
func (c *Client) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, path)
}

// Upload - place bytes at dir/fileName, overwriting any previous object at
// that path; returns the public URL
func (c *Client) Upload(ctx context.Context, data []byte, dir, fileName, contentType string) (string, error) {
	path := dir + "/" + fileName
	log.Printf("📤 Uploading to storage: %s (%d bytes)", path, len(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return "", &Error{Kind: KindFatal, Op: "upload", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: classifyTransport(err), Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", &Error{
			Kind:   classifyStatus(resp.StatusCode),
			Op:     "upload",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("upload %s failed: %s", path, string(body)),
		}
	}

	log.Printf("✅ Uploaded: %s", path)
	return c.PublicURL(path), nil
}

// Delete - remove one object by path; a 404 surfaces as KindNotFound, which
// callers treat as already deleted
func (c *Client) Delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(path), nil)
	if err != nil {
		return &Error{Kind: KindFatal, Op: "delete", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: classifyTransport(err), Op: "delete", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return &Error{
		Kind:   classifyStatus(resp.StatusCode),
		Op:     "delete",
		Status: resp.StatusCode,
		Err:    fmt.Errorf("delete %s failed: %s", path, string(body)),
	}
}

// listRequest - body of the storage list endpoint
type listRequest struct {
	Prefix string      `json:"prefix"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	SortBy listSortBy  `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// ListFolder - all objects directly under one prefix, paginating until
// exhausted
func (c *Client) ListFolder(ctx context.Context, prefix string) ([]Object, error) {
	listURL := fmt.Sprintf("%s/storage/v1/object/list/%s", c.baseURL, c.bucket)

	var all []Object
	for offset := 0; ; offset += listPageSize {
		reqBody, err := json.Marshal(listRequest{
			Prefix: prefix,
			Limit:  listPageSize,
			Offset: offset,
			SortBy: listSortBy{Column: "name", Order: "asc"},
		})
		if err != nil {
			return nil, &Error{Kind: KindFatal, Op: "list", Err: err}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, listURL, bytes.NewReader(reqBody))
		if err != nil {
			return nil, &Error{Kind: KindFatal, Op: "list", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &Error{Kind: classifyTransport(err), Op: "list", Err: err}
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &Error{
				Kind:   classifyStatus(resp.StatusCode),
				Op:     "list",
				Status: resp.StatusCode,
				Err:    fmt.Errorf("list %s failed: %s", prefix, string(body)),
			}
		}

		var page []Object
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, &Error{Kind: KindFatal, Op: "list", Err: fmt.Errorf("failed to parse listing: %w", err)}
		}

		all = append(all, page...)
		if len(page) < listPageSize {
			break
		}
	}

	log.Printf("🔍 Listed %d objects under %s", len(all), prefix)
	return all, nil
}
