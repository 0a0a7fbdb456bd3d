package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"repodash/internal/models"
)

func TestStartSingleTargetUsesRepositoryField(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/interactive/start" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set(SessionIDHeader, "remote-1")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zap.NewNop())
	ex, err := c.Start(context.Background(), "do the thing", []string{"web"}, DefaultOptions)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ex.Body.Close()

	if ex.RemoteSessionID != "remote-1" {
		t.Fatalf("remote session id = %q", ex.RemoteSessionID)
	}
	if captured["repository"] != "web" {
		t.Fatalf("repository field = %v", captured["repository"])
	}
	if _, ok := captured["repositories"]; ok {
		t.Fatalf("repositories field set for single target: %v", captured)
	}
}

func TestStartMultiTargetUsesRepositoriesField(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	ex, err := c.Start(context.Background(), "sweep", []string{"web", "api"}, DefaultOptions)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ex.Body.Close()

	if _, ok := captured["repository"]; ok {
		t.Fatalf("repository field set for multi target: %v", captured)
	}
	repos, ok := captured["repositories"].([]any)
	if !ok || len(repos) != 2 {
		t.Fatalf("repositories field = %v", captured["repositories"])
	}
}

func TestContinueTargetsRemoteSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/interactive/remote-7/message" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	ex, err := c.Continue(context.Background(), "remote-7", "and then?", nil)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	ex.Body.Close()
}

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		class  models.ErrorClass
	}{
		{http.StatusUnauthorized, models.ErrAuth},
		{http.StatusForbidden, models.ErrAuth},
		{http.StatusTooManyRequests, models.ErrRateLimit},
		{http.StatusNotFound, models.ErrSessionNotFound},
		{http.StatusInternalServerError, models.ErrServer},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(srv.URL, "", zap.NewNop())
		_, err := c.Start(context.Background(), "x", nil, DefaultOptions)
		srv.Close()

		var apiErr *Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected *Error, got %v", tc.status, err)
		}
		if apiErr.Class != tc.class {
			t.Fatalf("status %d: class %q, want %q", tc.status, apiErr.Class, tc.class)
		}
	}
}

func TestClassifyPrefersBackendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message": "prompt is required"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	_, err := c.Start(context.Background(), "", nil, DefaultOptions)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Message != "prompt is required" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // dead endpoint

	c := NewClient(srv.URL, "", zap.NewNop())
	_, err := c.Start(context.Background(), "x", nil, DefaultOptions)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Class != models.ErrNetwork {
		t.Fatalf("class = %q, want network", apiErr.Class)
	}
}

func TestCancelledContextPassesThrough(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, "", zap.NewNop())
	_, err := c.Start(ctx, "x", nil, DefaultOptions)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", zap.NewNop())
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}

	srv.Close()
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected failure against closed server")
	}
}
