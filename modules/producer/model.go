package producer

// UploadResponse - returned after the original is accepted and queued
type UploadResponse struct {
	Success  bool   `json:"success"`
	MediaID  string `json:"mediaId"`
	JobID    string `json:"jobId"`
	Priority int    `json:"priority"`
	Message  string `json:"message"`
}

// DeleteRequest - removal request for one media item. The media id comes
// from the route, URLs may be omitted and are then resolved from the media
// record.
type DeleteRequest struct {
	MediaID    string   `json:"-"`
	EventID    string   `json:"eventId"`
	URLs       []string `json:"urls,omitempty"`
	UploaderID string   `json:"uploaderId,omitempty"`
	IsBulk     bool     `json:"isBulk"`
}

// DeleteResponse - acknowledgement that the cleanup job is queued
type DeleteResponse struct {
	Success bool   `json:"success"`
	MediaID string `json:"mediaId"`
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}
