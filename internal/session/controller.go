// Package session orchestrates one logical conversation: it issues exchange
// requests, drives the stream decoder, mutates message state and owns
// cancellation and the exchange deadline.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"repodash/internal/api"
	"repodash/internal/models"
	"repodash/internal/queue"
	"repodash/internal/store"
	"repodash/internal/stream"
)

// DefaultExchangeTimeout is the wall-clock deadline per outbound exchange.
const DefaultExchangeTimeout = 30 * time.Second

type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateStreaming
)

// EndReason records why the last exchange ended. It is returned state, not
// a thrown condition, so a deliberate cancel can never be mistaken for a
// failure by a generic error path.
type EndReason string

const (
	EndNone          EndReason = ""
	EndUserCancelled EndReason = "userCancelled"
	EndTimedOut      EndReason = "timedOut"
)

const queuedMetaKey = "queued"

// Backend is the slice of the API client the controller needs.
type Backend interface {
	Start(ctx context.Context, prompt string, targets []string, opts api.Options) (*api.Exchange, error)
	Continue(ctx context.Context, remoteSessionID, message string, targets []string) (*api.Exchange, error)
}

// Online answers whether the device currently has connectivity.
type Online interface {
	IsOnline() bool
}

type Controller struct {
	backend Backend
	store   *store.SessionStore
	queue   *queue.Queue
	online  Online
	logger  *zap.Logger
	opts    api.Options
	timeout time.Duration

	mu              sync.Mutex
	messages        []*models.Message
	remoteSessionID string
	targets         []string
	state           State
	cancelExchange  context.CancelFunc
	userCancelled   bool
	lastReason      EndReason
	lastPrompt      string
	inflightID      string
	statusID        string
}

func NewController(backend Backend, st *store.SessionStore, q *queue.Queue, online Online, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		backend: backend,
		store:   st,
		queue:   q,
		online:  online,
		logger:  logger,
		opts:    api.DefaultOptions,
		timeout: DefaultExchangeTimeout,
	}
}

// SetExchangeTimeout overrides the per-exchange deadline; used by tests.
func (c *Controller) SetExchangeTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// SetTargets scopes the conversation to the given repositories.
func (c *Controller) SetTargets(targets []string) {
	c.mu.Lock()
	c.targets = append([]string(nil), targets...)
	c.mu.Unlock()
}

// Messages returns a snapshot of the conversation for rendering.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, *m)
	}
	return out
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsStreaming() bool {
	return c.State() != StateIdle
}

func (c *Controller) LastEndReason() EndReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReason
}

func (c *Controller) RemoteSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSessionID
}

// Restore loads the persisted current session back into memory, typically on
// startup. It is a no-op while an exchange is in flight.
func (c *Controller) Restore(ctx context.Context) error {
	se, err := c.store.LoadCurrent(ctx)
	if err != nil || se == nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return nil
	}
	c.messages = se.Messages
	c.remoteSessionID = se.RemoteSessionID
	c.targets = se.SelectedTargets
	for _, m := range se.Messages {
		if m.Role == models.RoleUser {
			c.lastPrompt = m.Content
		}
	}
	return nil
}

// Send submits one user turn. Empty input and input while an exchange is in
// flight are no-ops: at most one exchange is ever open per session. Offline
// input is queued instead, with a local notice, and Send returns without
// touching the network.
func (c *Controller) Send(ctx context.Context, text string) error {
	return c.send(ctx, strings.TrimSpace(text), false)
}

func (c *Controller) send(ctx context.Context, text string, reuseUserMessage bool) error {
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}

	if c.online != nil && !c.online.IsOnline() {
		err := c.enqueueOfflineLocked(ctx, text)
		c.mu.Unlock()
		c.persist(ctx)
		return err
	}

	c.state = StateAwaitingResponse
	c.lastReason = EndNone
	c.userCancelled = false
	c.inflightID = ""
	c.lastPrompt = text
	if !(reuseUserMessage && c.hasTrailingUserMessage(text)) {
		user := models.NewMessage(models.RoleUser, text)
		if len(c.targets) == 1 {
			user.Metadata = map[string]string{"repository": c.targets[0]}
		}
		c.messages = append(c.messages, user)
	}

	exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	c.cancelExchange = cancel
	remote := c.remoteSessionID
	targets := append([]string(nil), c.targets...)
	c.mu.Unlock()

	c.persist(ctx)

	var (
		ex  *api.Exchange
		err error
	)
	if remote == "" {
		ex, err = c.backend.Start(exCtx, text, targets, c.opts)
	} else {
		ex, err = c.backend.Continue(exCtx, remote, text, targets)
	}

	var finalErr error
	if err != nil {
		finalErr = c.finishRequestError(exCtx, err)
	} else {
		if ex.RemoteSessionID != "" {
			c.mu.Lock()
			c.remoteSessionID = ex.RemoteSessionID
			c.mu.Unlock()
		}
		finalErr = c.consume(exCtx, ex.Body)
		ex.Body.Close()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.cancelExchange = nil
	c.inflightID = ""
	c.statusID = ""
	c.mu.Unlock()
	cancel()

	c.persist(ctx)
	return finalErr
}

func (c *Controller) enqueueOfflineLocked(ctx context.Context, text string) error {
	payload, err := json.Marshal(models.SendMessagePayload{Prompt: text, Targets: c.targets})
	if err != nil {
		return fmt.Errorf("encode queued action: %w", err)
	}
	if _, err := c.queue.Enqueue(ctx, models.ActionSendMessage, payload); err != nil {
		return err
	}

	user := models.NewMessage(models.RoleUser, text)
	user.Metadata = map[string]string{queuedMetaKey: "true"}
	notice := models.NewMessage(models.RoleSystem, "You're offline. The message was queued and will be sent when the connection returns.")
	c.messages = append(c.messages, user, notice)
	c.lastPrompt = text
	return nil
}

func (c *Controller) hasTrailingUserMessage(text string) bool {
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == models.RoleAssistant {
			return false
		}
		if m.Role == models.RoleUser {
			return m.Content == text
		}
	}
	return false
}

// consume drives the decoder, applying each event to message state and to
// the durable store, until the stream ends or the exchange is aborted.
func (c *Controller) consume(exCtx context.Context, body io.Reader) error {
	dec := stream.NewDecoder(body)
	for {
		// Cooperative cancellation check before each read.
		if exCtx.Err() != nil {
			return c.finishAborted(exCtx.Err())
		}

		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.finalize()
				return nil
			}
			var malformed *stream.MalformedPayloadError
			if errors.As(err, &malformed) {
				// Report without aborting the stream.
				c.logger.Warn("malformed stream payload",
					zap.String("event", string(malformed.Type)),
					zap.Error(malformed.Err))
				continue
			}
			if exCtx.Err() != nil {
				return c.finishAborted(exCtx.Err())
			}
			c.failInflight(models.ErrNetwork, "Connection lost while receiving the response.")
			return err
		}

		if stop := c.apply(ev); stop {
			c.finalize()
			return nil
		}
		c.persist(exCtx)
	}
}

// apply mutates message state for one decoded event. It returns true when
// the stream should end early.
func (c *Controller) apply(ev stream.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case stream.EventStart:
		c.state = StateStreaming
		c.ensureInflightLocked()

	case stream.EventDelta:
		c.state = StateStreaming
		msg := c.ensureInflightLocked()
		msg.Content += ev.Delta.Content

	case stream.EventStatus:
		text := ev.Status.Text()
		if text == "" {
			return false
		}
		if prev := c.messageByIDLocked(c.statusID); prev != nil {
			prev.Content = text
			prev.Timestamp = models.NowMillis()
			return false
		}
		status := models.NewMessage(models.RoleSystem, text)
		status.Metadata = map[string]string{"status": "true"}
		c.messages = append(c.messages, status)
		c.statusID = status.ID

	case stream.EventEnd:
		if msg := c.messageByIDLocked(c.inflightID); msg != nil {
			msg.Streaming = false
		}

	case stream.EventComplete:
		if len(ev.Complete.MultiRepoResults) > 0 {
			msg := c.ensureInflightLocked()
			summary := formatMultiRepoSummary(ev.Complete.MultiRepoResults)
			if msg.Content != "" {
				msg.Content += "\n\n"
			}
			msg.Content += summary
		}

	case stream.EventError:
		text := ev.Error.Message
		if text == "" {
			text = "The request failed."
		}
		msg := c.ensureInflightLocked()
		if msg.Content != "" {
			msg.Content += "\n\n"
		}
		msg.Content += "Error: " + text
		msg.Error = true
		msg.ErrorClass = models.ErrServer
		msg.Streaming = false
		return true
	}
	return false
}

// ensureInflightLocked returns the in-flight assistant message, creating it
// on first use. Exactly one message streams at a time.
func (c *Controller) ensureInflightLocked() *models.Message {
	if msg := c.messageByIDLocked(c.inflightID); msg != nil {
		return msg
	}
	msg := models.NewMessage(models.RoleAssistant, "")
	msg.Streaming = true
	c.messages = append(c.messages, msg)
	c.inflightID = msg.ID
	return msg
}

func (c *Controller) messageByIDLocked(id string) *models.Message {
	if id == "" {
		return nil
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return c.messages[i]
		}
	}
	return nil
}

// finalize clears the streaming flag after a normally terminated stream.
func (c *Controller) finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg := c.messageByIDLocked(c.inflightID); msg != nil {
		msg.Streaming = false
	}
	c.lastReason = EndNone
}

// finishAborted resolves a cancelled or expired exchange. A user cancel
// synthesizes nothing here (Cancel already appended its notice) and must
// suppress the error a timeout would otherwise raise, even if the deadline
// fires afterwards.
func (c *Controller) finishAborted(cause error) error {
	c.mu.Lock()
	userCancelled := c.userCancelled
	c.mu.Unlock()

	if userCancelled {
		c.mu.Lock()
		if msg := c.messageByIDLocked(c.inflightID); msg != nil {
			msg.Streaming = false
		}
		c.lastReason = EndUserCancelled
		c.mu.Unlock()
		return nil
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		c.mu.Lock()
		c.lastReason = EndTimedOut
		c.mu.Unlock()
		c.failInflight(models.ErrTimeout, fmt.Sprintf("Request timed out after %d seconds.", int(c.timeout.Seconds())))
		return cause
	}

	c.failInflight(models.ErrNetwork, "The request was interrupted.")
	return cause
}

func (c *Controller) finishRequestError(exCtx context.Context, err error) error {
	if exCtx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cause := exCtx.Err()
		if cause == nil {
			cause = err
		}
		return c.finishAborted(cause)
	}

	class := models.ErrNetwork
	text := "Could not reach the backend. Check your connection and try again."
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		class = apiErr.Class
		text = apiErr.Message
	}
	c.failInflight(class, text)
	return err
}

// failInflight finalizes the in-flight assistant message as errored with
// whatever partial content had accumulated, creating it when the failure
// happened before any content arrived.
func (c *Controller) failInflight(class models.ErrorClass, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.ensureInflightLocked()
	if msg.Content != "" {
		msg.Content += "\n\n"
	}
	msg.Content += text
	msg.Error = true
	msg.ErrorClass = class
	msg.Streaming = false
}

// Cancel aborts the active exchange and appends a neutral notice. It is
// distinguished from a deadline expiry so no error message is shown.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.state == StateIdle || c.cancelExchange == nil {
		c.mu.Unlock()
		return
	}
	c.userCancelled = true
	c.lastReason = EndUserCancelled
	cancel := c.cancelExchange
	c.messages = append(c.messages, models.NewMessage(models.RoleSystem, "Request cancelled"))
	c.mu.Unlock()

	cancel()
}

// RetryLast drops the most recent failed assistant message and resends the
// last user prompt. No-op when nothing failed or nothing was sent.
func (c *Controller) RetryLast(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle || c.lastPrompt == "" {
		c.mu.Unlock()
		return nil
	}
	if n := len(c.messages); n > 0 {
		last := c.messages[n-1]
		if last.Role == models.RoleAssistant && last.Error {
			c.messages = c.messages[:n-1]
		}
	}
	prompt := c.lastPrompt
	c.mu.Unlock()

	return c.send(ctx, prompt, true)
}

// NewConversation resets in-memory and persisted current state. The stable
// session id is invalidated so the next save mints a fresh conversation.
func (c *Controller) NewConversation(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelExchange != nil {
		c.userCancelled = true
		c.cancelExchange()
	}
	c.messages = nil
	c.remoteSessionID = ""
	c.lastPrompt = ""
	c.inflightID = ""
	c.statusID = ""
	c.lastReason = EndNone
	c.mu.Unlock()

	return c.store.ClearCurrent(ctx)
}

// Replay re-executes one queued action; it implements the sync
// coordinator's Replayer. The queued user message becomes a normal sent
// message on success.
func (c *Controller) Replay(ctx context.Context, item models.QueueItem) error {
	if item.Kind != models.ActionSendMessage {
		return fmt.Errorf("unknown action kind %q", item.Kind)
	}
	var payload models.SendMessagePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("decode queued action: %w", err)
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return errors.New("exchange in flight, replay deferred")
	}
	if len(payload.Targets) > 0 {
		c.targets = payload.Targets
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == models.RoleUser && m.Content == payload.Prompt && m.Metadata[queuedMetaKey] == "true" {
			delete(m.Metadata, queuedMetaKey)
			break
		}
	}
	c.mu.Unlock()

	return c.send(ctx, payload.Prompt, true)
}

// persist writes the conversation as "current". Quota failures are reported
// and skipped; the in-memory state carries on without that write.
func (c *Controller) persist(ctx context.Context) {
	c.mu.Lock()
	snapshot := append([]*models.Message(nil), c.messages...)
	remote := c.remoteSessionID
	targets := append([]string(nil), c.targets...)
	c.mu.Unlock()

	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelSave()
	if _, err := c.store.SaveCurrent(saveCtx, snapshot, remote, targets); err != nil {
		var quota *store.QuotaError
		if errors.As(err, &quota) {
			c.logger.Warn("session not persisted", zap.String("class", string(quota.Class())), zap.Error(err))
			return
		}
		c.logger.Warn("session not persisted", zap.Error(err))
	}
}

func formatMultiRepoSummary(results []stream.RepoResult) string {
	var b strings.Builder
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
			fmt.Fprintf(&b, "✓ %s", r.Repository)
			if r.PRURL != "" {
				fmt.Fprintf(&b, " (%s)", r.PRURL)
			}
		} else {
			fmt.Fprintf(&b, "✗ %s", r.Repository)
			if r.Error != "" {
				fmt.Fprintf(&b, ": %s", r.Error)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%d/%d repositories updated", succeeded, len(results))
	return b.String()
}
