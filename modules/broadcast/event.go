package broadcast

// Wire event types consumed by viewer/moderator clients
const (
	TypeProgress  = "processing_progress"
	TypeCompleted = "processing_complete"
	TypeFailed    = "processing_failed"
	TypeRemoved   = "media_removed"
)

// Audience roles. Moderators see all lifecycle detail; viewers only see
// approval-relevant transitions (appearance and removal) and a generic
// failure signal.
const (
	RoleModerator = "moderator"
	RoleViewer    = "viewer"
)

// Event - one realtime message for an event's room
type Event struct {
	Type               string            `json:"type"`
	MediaID            string            `json:"mediaId"`
	EventID            string            `json:"eventId"`
	Stage              string            `json:"stage,omitempty"`
	ProgressPercentage int               `json:"progressPercentage,omitempty"`
	UploadedBy         string            `json:"uploadedBy,omitempty"`
	FinalURL           string            `json:"finalUrl,omitempty"`
	Variants           map[string]string `json:"variants,omitempty"`
	Error              string            `json:"error,omitempty"`
}

// Broadcaster - the narrow publish capability injected into workers. Delivery
// is best-effort and fire-and-forget: a publish with no live subscribers is
// not an error and must never fail the owning job.
type Broadcaster interface {
	PublishProgress(mediaID, eventID, stage string, percentage int, uploadedBy string)
	PublishCompleted(mediaID, eventID, finalURL string, variants map[string]string)
	PublishFailed(mediaID, eventID, errorMessage string)
	PublishRemoved(mediaID, eventID string)
}
