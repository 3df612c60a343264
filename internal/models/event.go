package models

// SyncEvent is pushed to feed websocket clients whenever session state
// changes, whether from a remote push or a local optimistic mutation.
// Threads travel as the session user's projection, never the raw record,
// so one participant's overlay flags stay invisible to the rest.
type SyncEvent struct {
	Type     string      `json:"type"`
	Thread   *ThreadView `json:"thread,omitempty"`
	ThreadID string      `json:"thread_id,omitempty"`
	Message  *Message    `json:"message,omitempty"`
	Status   string      `json:"status,omitempty"`
}

const (
	SyncThreadUpdated = "thread_updated"
	SyncThreadRemoved = "thread_removed"
	SyncMessage       = "message"
	SyncStatusChanged = "status_changed"
)
