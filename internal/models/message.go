package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ErrorClass tags a failure for diagnostics and user-facing copy.
type ErrorClass string

const (
	ErrNetwork         ErrorClass = "network"
	ErrAuth            ErrorClass = "auth"
	ErrRateLimit       ErrorClass = "rateLimit"
	ErrTimeout         ErrorClass = "timeout"
	ErrUserCancelled   ErrorClass = "userCancelled"
	ErrServer          ErrorClass = "server"
	ErrParseMalformed  ErrorClass = "parseMalformed"
	ErrStorageQuota    ErrorClass = "storageQuota"
	ErrStorageParse    ErrorClass = "storageParse"
	ErrSessionNotFound ErrorClass = "sessionNotFound"
	ErrSessionExpired  ErrorClass = "sessionExpired"
)

// Message is one conversational turn. Content grows incrementally while an
// assistant turn is streaming; at most one message per session has
// Streaming set, and it is always the newest assistant message.
type Message struct {
	ID         string            `json:"id"`
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	Timestamp  int64             `json:"timestamp"`
	Streaming  bool              `json:"streaming,omitempty"`
	Error      bool              `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ErrorClass ErrorClass        `json:"errorClass,omitempty"`
}

// NewMessage mints a message with a fresh id and the current wall-clock time.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: NowMillis(),
	}
}

// Persisted returns a copy suitable for durable storage: the transient
// streaming flag is dropped so a reloaded session never appears mid-stream.
func (m *Message) Persisted() *Message {
	cp := *m
	cp.Streaming = false
	if m.Metadata != nil {
		cp.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// NowMillis returns the current time as integer epoch milliseconds, the
// timestamp unit used across persisted state.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
