package models

import "strings"

const (
	titleLimit   = 50
	defaultTitle = "New conversation"
)

// Session is one logical conversation. ID is stable across saves; the
// backend-assigned RemoteSessionID is empty until the first exchange.
type Session struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Messages        []*Message `json:"messages"`
	RemoteSessionID string     `json:"remoteSessionId,omitempty"`
	SelectedTargets []string   `json:"selectedTargets,omitempty"`
	CreatedAt       int64      `json:"createdAt"`
	UpdatedAt       int64      `json:"updatedAt"`
}

// SessionSummary is the listing row for session history.
type SessionSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
	MessageCount  int    `json:"messageCount"`
	TokenEstimate int    `json:"tokenEstimate"`
}

// Summary derives the listing row, with a rough 4-chars-per-token estimate.
func (s *Session) Summary() SessionSummary {
	chars := 0
	for _, m := range s.Messages {
		chars += len(m.Content)
	}
	return SessionSummary{
		ID:            s.ID,
		Title:         s.Title,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		MessageCount:  len(s.Messages),
		TokenEstimate: chars / 4,
	}
}

// DeriveTitle builds a session title from the first user message, truncated
// to 50 characters with an ellipsis, or a placeholder when there is none.
func DeriveTitle(messages []*Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		title := strings.TrimSpace(m.Content)
		if title == "" {
			break
		}
		runes := []rune(title)
		if len(runes) > titleLimit {
			return string(runes[:titleLimit]) + "…"
		}
		return title
	}
	return defaultTitle
}
