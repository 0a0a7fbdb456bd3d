package connectivity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"repodash/internal/kv"
	"repodash/internal/models"
	"repodash/internal/queue"
)

type probeStub struct {
	err error
}

func (p *probeStub) Health(context.Context) error { return p.err }

type replayStub struct {
	failPrompts map[string]bool
	replayed    []string
}

func (r *replayStub) Replay(ctx context.Context, item models.QueueItem) error {
	var payload models.SendMessagePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return err
	}
	r.replayed = append(r.replayed, payload.Prompt)
	if r.failPrompts[payload.Prompt] {
		return errors.New("replay failed")
	}
	return nil
}

func newTestCoordinator(t *testing.T, probe Prober) (*Coordinator, *queue.Queue) {
	t.Helper()
	q := queue.New(kv.NewMemoryStore(), zap.NewNop())
	return New(probe, q, zap.NewNop()), q
}

func enqueuePrompt(t *testing.T, q *queue.Queue, prompt string) {
	t.Helper()
	payload, err := json.Marshal(models.SendMessagePayload{Prompt: prompt})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), models.ActionSendMessage, payload); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestListenersNotifiedOnFlip(t *testing.T) {
	c, _ := newTestCoordinator(t, &probeStub{})

	var flips []bool
	unsubscribe := c.OnConnectionChange(func(online bool) {
		flips = append(flips, online)
	})

	c.SetOnline(true)
	c.SetOnline(true) // no flip, no notification
	c.SetOnline(false)

	if len(flips) != 2 || !flips[0] || flips[1] {
		t.Fatalf("unexpected notifications: %v", flips)
	}

	unsubscribe()
	c.SetOnline(true)
	if len(flips) != 2 {
		t.Fatalf("listener fired after unsubscribe: %v", flips)
	}
}

func TestProbeRecordsState(t *testing.T) {
	probe := &probeStub{}
	c, _ := newTestCoordinator(t, probe)

	if !c.IsOffline() {
		t.Fatal("coordinator must start offline")
	}
	if online := c.Probe(context.Background()); !online {
		t.Fatal("healthy probe should flip online")
	}

	// Within the rate window the second probe is skipped and state holds.
	probe.err = errors.New("unreachable")
	if online := c.Probe(context.Background()); !online {
		t.Fatal("rate-limited probe must keep prior state")
	}
}

func TestSyncDrainsQueueInOrder(t *testing.T) {
	c, q := newTestCoordinator(t, &probeStub{})
	ctx := context.Background()

	enqueuePrompt(t, q, "one")
	enqueuePrompt(t, q, "two")
	enqueuePrompt(t, q, "three")

	replayer := &replayStub{}
	res, err := c.Sync(ctx, replayer)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Success || res.Processed != 3 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := strings.Join(replayer.replayed, ","); got != "one,two,three" {
		t.Fatalf("replay order: %q", got)
	}
	if n := q.Len(ctx); n != 0 {
		t.Fatalf("queue not drained: %d left", n)
	}
}

func TestSyncContinuesPastFailure(t *testing.T) {
	c, q := newTestCoordinator(t, &probeStub{})
	ctx := context.Background()

	enqueuePrompt(t, q, "ok-1")
	enqueuePrompt(t, q, "bad")
	enqueuePrompt(t, q, "ok-2")

	replayer := &replayStub{failPrompts: map[string]bool{"bad": true}}
	res, err := c.Sync(ctx, replayer)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Success {
		t.Fatal("partial drain reported success")
	}
	if res.Processed != 2 || res.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}

	items, _ := q.List(ctx)
	if len(items) != 1 {
		t.Fatalf("expected 1 item retained, got %d", len(items))
	}
	if items[0].RetryCount != 1 {
		t.Fatalf("retained item retry count = %d, want 1", items[0].RetryCount)
	}

	// The failed item is retried on the next pass.
	replayer.failPrompts = nil
	res, err = c.Sync(ctx, replayer)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !res.Success || res.Processed != 1 {
		t.Fatalf("unexpected second result: %+v", res)
	}
	if n := q.Len(ctx); n != 0 {
		t.Fatalf("queue not empty after retry: %d", n)
	}
}

func TestSyncEmptyQueue(t *testing.T) {
	c, _ := newTestCoordinator(t, &probeStub{})

	res, err := c.Sync(context.Background(), &replayStub{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Success || res.Processed != 0 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
