// Package store persists the current conversation and a capped, time-boxed
// history of past conversations on top of a kv namespace.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repodash/internal/kv"
	"repodash/internal/models"
)

const (
	currentKey       = "repodash:current-session"
	historyKey       = "repodash:session-history"
	corruptBackupKey = "repodash:session-history:corrupt"

	historyCap = 50
)

// RetentionWindow is the age after which a persisted session is expired.
const RetentionWindow = 24 * time.Hour

// ErrAccessDenied is returned from ListHistory when the gate refuses.
var ErrAccessDenied = errors.New("store: history access denied")

// Gate is the authentication collaborator consulted before history listing
// is exposed. Implementations outside this package decide how access is
// granted (biometrics, device lock, always-allow for the CLI).
type Gate interface {
	Authorize(ctx context.Context) error
}

// AllowAll is the gate used when no access gating is configured.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context) error { return nil }

// Scope owns the stable id of the conversation being written as "current".
// It is minted once and reused across saves so repeated saves of one
// conversation never fragment into multiple history rows.
type Scope struct {
	mu       sync.Mutex
	id       string
	mintedAt int64
}

func NewScope() *Scope { return &Scope{} }

// SessionID returns the stable id, minting one on first use.
func (s *Scope) SessionID() (id string, createdAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = uuid.NewString()
		s.mintedAt = models.NowMillis()
	}
	return s.id, s.mintedAt
}

// Invalidate discards the id so the next save mints a fresh one.
func (s *Scope) Invalidate() {
	s.mu.Lock()
	s.id = ""
	s.mintedAt = 0
	s.mu.Unlock()
}

// SessionStore implements the durable session store operations.
type SessionStore struct {
	kv     kv.Store
	scope  *Scope
	gate   Gate
	logger *zap.Logger
	now    func() int64
}

func NewSessionStore(store kv.Store, gate Gate, logger *zap.Logger) *SessionStore {
	if gate == nil {
		gate = AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{
		kv:     store,
		scope:  NewScope(),
		gate:   gate,
		logger: logger,
		now:    models.NowMillis,
	}
}

// Scope exposes the current-session scope so the controller can invalidate
// it when a new conversation starts.
func (s *SessionStore) Scope() *Scope { return s.scope }

// SaveCurrent writes the conversation under the current key and, once it has
// at least one message, upserts it into history. Write failures are reported
// but callers treat them as non-fatal: the in-memory state stays ahead of
// the durable copy.
func (s *SessionStore) SaveCurrent(ctx context.Context, messages []*models.Message, remoteSessionID string, targets []string) (*models.Session, error) {
	id, createdAt := s.scope.SessionID()

	persisted := make([]*models.Message, 0, len(messages))
	for _, m := range messages {
		persisted = append(persisted, m.Persisted())
	}

	session := &models.Session{
		ID:              id,
		Title:           models.DeriveTitle(persisted),
		Messages:        persisted,
		RemoteSessionID: remoteSessionID,
		SelectedTargets: targets,
		CreatedAt:       createdAt,
		UpdatedAt:       s.now(),
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode current session: %w", err)
	}
	if err := s.kv.Set(ctx, currentKey, string(raw)); err != nil {
		return session, &QuotaError{Key: currentKey, Err: err}
	}

	if len(session.Messages) > 0 {
		if err := s.upsertHistory(ctx, session); err != nil {
			return session, err
		}
	}
	return session, nil
}

// LoadCurrent reads the current session, discarding it when older than the
// retention window. A missing or unreadable record yields nil, not an error.
func (s *SessionStore) LoadCurrent(ctx context.Context) (*models.Session, error) {
	raw, err := s.kv.Get(ctx, currentKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		s.logger.Warn("current session unreadable, discarding", zap.Error(err))
		return nil, nil
	}
	if s.expired(session.UpdatedAt) {
		_ = s.kv.Remove(ctx, currentKey)
		return nil, nil
	}
	return &session, nil
}

// ListHistory returns summaries of unexpired sessions, newest first. The
// access gate must grant before anything is exposed.
func (s *SessionStore) ListHistory(ctx context.Context) ([]models.SessionSummary, error) {
	if err := s.gate.Authorize(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}

	sessions := s.loadHistory(ctx)
	sessions = s.prune(sessions)
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt > sessions[j].UpdatedAt
	})

	summaries := make([]models.SessionSummary, 0, len(sessions))
	for _, se := range sessions {
		summaries = append(summaries, se.Summary())
	}
	return summaries, nil
}

// LoadFromHistory returns the full session for id, or nil if absent or
// expired.
func (s *SessionStore) LoadFromHistory(ctx context.Context, id string) (*models.Session, error) {
	for _, se := range s.loadHistory(ctx) {
		if se.ID == id {
			if s.expired(se.UpdatedAt) {
				return nil, nil
			}
			return se, nil
		}
	}
	return nil, nil
}

// DeleteFromHistory removes one entry, reporting whether the write stuck.
func (s *SessionStore) DeleteFromHistory(ctx context.Context, id string) bool {
	sessions := s.loadHistory(ctx)
	kept := sessions[:0]
	for _, se := range sessions {
		if se.ID != id {
			kept = append(kept, se)
		}
	}
	if err := s.writeHistory(ctx, kept); err != nil {
		s.logger.Warn("delete from history failed", zap.String("id", id), zap.Error(err))
		return false
	}
	return true
}

func (s *SessionStore) ClearHistory(ctx context.Context) error {
	return s.kv.Remove(ctx, historyKey)
}

// ClearCurrent drops the current record and invalidates the stable session
// id so the next save mints a new one.
func (s *SessionStore) ClearCurrent(ctx context.Context) error {
	s.scope.Invalidate()
	return s.kv.Remove(ctx, currentKey)
}

func (s *SessionStore) upsertHistory(ctx context.Context, session *models.Session) error {
	sessions := s.loadHistory(ctx)

	replaced := false
	for i, se := range sessions {
		if se.ID == session.ID {
			sessions[i] = session
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append([]*models.Session{session}, sessions...)
	}

	sessions = s.prune(sessions)
	if len(sessions) > historyCap {
		sessions = sessions[:historyCap]
	}
	return s.writeHistory(ctx, sessions)
}

// loadHistory reads the history array. Malformed data is non-fatal: the
// corrupt blob is copied to a backup key and history is treated as empty so
// the triggering user action can still make progress.
func (s *SessionStore) loadHistory(ctx context.Context) []*models.Session {
	raw, err := s.kv.Get(ctx, historyKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("read history failed", zap.Error(err))
		return nil
	}

	var sessions []*models.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		s.logger.Warn("history unreadable, backing up corrupt payload", zap.Error(err))
		if backupErr := s.kv.Set(ctx, corruptBackupKey, raw); backupErr != nil {
			s.logger.Warn("history backup failed", zap.Error(backupErr))
		}
		return nil
	}
	return sessions
}

func (s *SessionStore) writeHistory(ctx context.Context, sessions []*models.Session) error {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Set(ctx, historyKey, string(raw)); err != nil {
		return &QuotaError{Key: historyKey, Err: err}
	}
	return nil
}

func (s *SessionStore) prune(sessions []*models.Session) []*models.Session {
	kept := sessions[:0]
	for _, se := range sessions {
		if !s.expired(se.UpdatedAt) {
			kept = append(kept, se)
		}
	}
	return kept
}

func (s *SessionStore) expired(updatedAt int64) bool {
	age := time.Duration(s.now()-updatedAt) * time.Millisecond
	return age > RetentionWindow
}

// QuotaError marks a persistence write that failed, typically on quota. The
// caller proceeds without durability for that write.
type QuotaError struct {
	Key string
	Err error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// Class reports the taxonomy tag for this failure.
func (e *QuotaError) Class() models.ErrorClass { return models.ErrStorageQuota }
