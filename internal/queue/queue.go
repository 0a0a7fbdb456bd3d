// Package queue records actions that cannot be sent immediately and makes
// them available for later replay without losing ordering.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repodash/internal/kv"
	"repodash/internal/models"
)

const queueKey = "repodash:offline-queue"

// ErrItemNotFound is returned when an id is not in the queue.
var ErrItemNotFound = errors.New("queue: item not found")

// Queue is the offline action queue. Items are FIFO by insertion order; an
// item leaves the queue only on successful replay or explicit discard.
// Retry scheduling lives with the sync coordinator, not here.
type Queue struct {
	kv     kv.Store
	logger *zap.Logger
}

func New(store kv.Store, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{kv: store, logger: logger}
}

// Enqueue appends an item with a zero retry count and returns its id.
func (q *Queue) Enqueue(ctx context.Context, kind models.ActionKind, payload json.RawMessage) (string, error) {
	items := q.load(ctx)
	item := models.QueueItem{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: models.NowMillis(),
		RetryCount: 0,
	}
	items = append(items, item)
	if err := q.write(ctx, items); err != nil {
		return "", err
	}
	return item.ID, nil
}

// List returns the queued items in enqueue order.
func (q *Queue) List(ctx context.Context) ([]models.QueueItem, error) {
	return q.load(ctx), nil
}

// Len reports the number of queued items.
func (q *Queue) Len(ctx context.Context) int {
	return len(q.load(ctx))
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	items := q.load(ctx)
	kept := items[:0]
	found := false
	for _, it := range items {
		if it.ID == id {
			found = true
			continue
		}
		kept = append(kept, it)
	}
	if !found {
		return ErrItemNotFound
	}
	return q.write(ctx, kept)
}

// IncrementRetry bumps the retry counter of one item in place.
func (q *Queue) IncrementRetry(ctx context.Context, id string) error {
	items := q.load(ctx)
	for i := range items {
		if items[i].ID == id {
			items[i].RetryCount++
			return q.write(ctx, items)
		}
	}
	return ErrItemNotFound
}

func (q *Queue) Clear(ctx context.Context) error {
	return q.kv.Remove(ctx, queueKey)
}

func (q *Queue) load(ctx context.Context) []models.QueueItem {
	raw, err := q.kv.Get(ctx, queueKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		q.logger.Warn("read queue failed", zap.Error(err))
		return nil
	}
	var items []models.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.logger.Warn("queue unreadable, treating as empty", zap.Error(err))
		return nil
	}
	return items
}

func (q *Queue) write(ctx context.Context, items []models.QueueItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.kv.Set(ctx, queueKey, string(raw)); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}
