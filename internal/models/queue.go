package models

import "encoding/json"

// ActionKind tags a deferred action recorded while offline.
type ActionKind string

const ActionSendMessage ActionKind = "send-message"

// QueueItem is one deferred action. The payload is opaque to the queue and
// decoded only by the component that replays it.
type QueueItem struct {
	ID         string          `json:"id"`
	Kind       ActionKind      `json:"actionKind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
}

// SendMessagePayload is the payload for ActionSendMessage items.
type SendMessagePayload struct {
	Prompt  string   `json:"prompt"`
	Targets []string `json:"targets,omitempty"`
}
