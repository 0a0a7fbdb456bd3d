// Package connectivity tracks online/offline state and drains the offline
// queue when the link comes back.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"repodash/internal/models"
	"repodash/internal/queue"
)

// Prober answers whether the backend is reachable right now.
type Prober interface {
	Health(ctx context.Context) error
}

// Replayer re-executes one deferred action. Implemented by the session
// controller.
type Replayer interface {
	Replay(ctx context.Context, item models.QueueItem) error
}

// Result aggregates one drain pass. Individual item failures are counted,
// not fatal; the caller decides whether to surface a partial failure.
type Result struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
}

type Coordinator struct {
	probe   Prober
	queue   *queue.Queue
	logger  *zap.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	online    bool
	syncing   bool
	queueLen  int
	listeners map[int]func(online bool)
	nextID    int
}

// New starts in the offline state until the first successful probe. The
// limiter keeps a flapping link from hammering the health endpoint.
func New(probe Prober, q *queue.Queue, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		probe:     probe,
		queue:     q,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		listeners: make(map[int]func(bool)),
	}
}

// OnConnectionChange registers a listener invoked on every online/offline
// flip with the new state. The returned function unsubscribes.
func (c *Coordinator) OnConnectionChange(fn func(online bool)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Coordinator) IsOffline() bool { return !c.IsOnline() }

func (c *Coordinator) IsSyncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing
}

// QueueLength reports the last polled queue length.
func (c *Coordinator) QueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueLen
}

// Probe checks the backend once and records the transition. Calls beyond
// the rate limit keep the current state.
func (c *Coordinator) Probe(ctx context.Context) bool {
	if !c.limiter.Allow() {
		return c.IsOnline()
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c.SetOnline(c.probe.Health(probeCtx) == nil)
	return c.IsOnline()
}

// SetOnline records connectivity and notifies listeners on a flip. Exposed
// so platforms with native reachability callbacks can feed state directly.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	fns := make([]func(bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	c.logger.Info("connectivity changed", zap.Bool("online", online))
	for _, fn := range fns {
		fn(online)
	}
}

// Start runs the periodic connectivity and queue-length polls until ctx is
// done. The polls only refresh observable state; they never touch an
// in-flight exchange's cancellation.
func (c *Coordinator) Start(ctx context.Context, probeEvery, queuePollEvery time.Duration) {
	go func() {
		ticker := time.NewTicker(probeEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Probe(ctx)
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(queuePollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refreshQueueLen(ctx)
			}
		}
	}()
}

func (c *Coordinator) refreshQueueLen(ctx context.Context) {
	n := c.queue.Len(ctx)
	c.mu.Lock()
	c.queueLen = n
	c.mu.Unlock()
}

// Sync replays every queued item in enqueue order, best effort. A failing
// item stays queued with its retry count bumped and processing moves on.
func (c *Coordinator) Sync(ctx context.Context, replayer Replayer) (Result, error) {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return Result{}, nil
	}
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	items, err := c.queue.List(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, item := range items {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := replayer.Replay(ctx, item); err != nil {
			c.logger.Warn("replay failed",
				zap.String("item", item.ID),
				zap.String("kind", string(item.Kind)),
				zap.Error(err))
			if bumpErr := c.queue.IncrementRetry(ctx, item.ID); bumpErr != nil {
				c.logger.Warn("retry bump failed", zap.String("item", item.ID), zap.Error(bumpErr))
			}
			res.Failed++
			continue
		}
		if err := c.queue.Remove(ctx, item.ID); err != nil {
			c.logger.Warn("dequeue failed", zap.String("item", item.ID), zap.Error(err))
		}
		res.Processed++
	}
	res.Success = res.Failed == 0
	c.refreshQueueLen(ctx)
	return res, nil
}
