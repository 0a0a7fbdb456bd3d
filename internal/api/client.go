// Package api is the HTTP client for the automation backend's interactive
// conversation surface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"repodash/internal/models"
)

// SessionIDHeader carries the backend-assigned remote session id on the
// start response.
const SessionIDHeader = "X-Session-Id"

// Options tunes a start request.
type Options struct {
	MaxTurns       int    `json:"maxTurns"`
	PermissionMode string `json:"permissionMode"`
	CreatePR       bool   `json:"createPR"`
}

// DefaultOptions mirror the backend defaults the dashboard ships with.
var DefaultOptions = Options{
	MaxTurns:       10,
	PermissionMode: "acceptEdits",
	CreatePR:       true,
}

// Exchange is one open request/response pair. Body is the chunked event
// stream; the caller owns closing it.
type Exchange struct {
	Body            io.ReadCloser
	RemoteSessionID string
}

// Error is a classified backend or transport failure.
type Error struct {
	Class   models.ErrorClass
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
	}
	return e.Message
}

type Client struct {
	base   string
	token  string
	hc     *http.Client
	logger *zap.Logger
}

// NewClient builds a client for the given base URL. An empty token disables
// the Authorization header. No overall client timeout is set: exchange
// lifetimes are bounded by the caller's context deadline.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		hc:     &http.Client{},
		logger: logger,
	}
}

type startRequest struct {
	Prompt       string   `json:"prompt"`
	Repository   string   `json:"repository,omitempty"`
	Repositories []string `json:"repositories,omitempty"`
	Options      Options  `json:"options"`
}

type continueRequest struct {
	Message      string   `json:"message"`
	Repository   string   `json:"repository,omitempty"`
	Repositories []string `json:"repositories,omitempty"`
}

// Start opens a new conversation. A single target is sent as "repository",
// several as "repositories".
func (c *Client) Start(ctx context.Context, prompt string, targets []string, opts Options) (*Exchange, error) {
	req := startRequest{Prompt: prompt, Options: opts}
	switch len(targets) {
	case 0:
	case 1:
		req.Repository = targets[0]
	default:
		req.Repositories = targets
	}
	return c.exchange(ctx, c.base+"/interactive/start", req)
}

// Continue sends a follow-up message on an existing remote session.
func (c *Client) Continue(ctx context.Context, remoteSessionID, message string, targets []string) (*Exchange, error) {
	req := continueRequest{Message: message}
	switch len(targets) {
	case 0:
	case 1:
		req.Repository = targets[0]
	default:
		req.Repositories = targets
	}
	return c.exchange(ctx, fmt.Sprintf("%s/interactive/%s/message", c.base, remoteSessionID), req)
}

// Health probes the backend; used by the connectivity coordinator.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return &Error{Class: models.ErrNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return &Error{Class: models.ErrServer, Status: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

func (c *Client) exchange(ctx context.Context, url string, body any) (*Exchange, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		// Context errors pass through so the controller can tell a user
		// cancel or deadline from a transport failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Class: models.ErrNetwork, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.classify(resp)
	}
	return &Exchange{
		Body:            resp.Body,
		RemoteSessionID: resp.Header.Get(SessionIDHeader),
	}, nil
}

// classify maps a non-2xx response to the error taxonomy, preferring the
// backend's own message when the body carries one.
func (c *Client) classify(resp *http.Response) *Error {
	apiErr := &Error{Status: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.Class = models.ErrAuth
		apiErr.Message = "authentication failed"
	case http.StatusTooManyRequests:
		apiErr.Class = models.ErrRateLimit
		apiErr.Message = "rate limited, try again shortly"
	case http.StatusNotFound:
		apiErr.Class = models.ErrSessionNotFound
		apiErr.Message = "session not found"
	default:
		apiErr.Class = models.ErrServer
		apiErr.Message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	var body struct {
		Message string `json:"message"`
	}
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
			apiErr.Message = body.Message
		}
	}
	return apiErr
}
