// Package devserver is a local stand-in for the automation backend. It
// speaks the exact interactive wire protocol so the engine and the CLI can
// be exercised without a deployment.
package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"repodash/internal/api"
	"repodash/internal/stream"
)

// Script drives what a conversation exchange streams back.
type Script struct {
	Statuses         []stream.StatusPayload
	Deltas           []string
	MultiRepoResults []stream.RepoResult
	ErrorMessage     string        // when set, an error event ends the stream after the deltas
	ChunkDelay       time.Duration // pause between deltas, for exercising deadlines
}

// DefaultScript mimics a short successful run.
func DefaultScript() Script {
	return Script{
		Statuses: []stream.StatusPayload{
			{Status: "analyzing", Message: "Reading the repository"},
			{Status: "working", Message: "Applying changes"},
		},
		Deltas: []string{"I looked into it. ", "The change is small: ", "one guard clause was missing."},
	}
}

type Server struct {
	logger *zap.Logger
	script Script

	mu       sync.Mutex
	sessions map[string]int
}

func New(script Script, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:   logger,
		script:   script,
		sessions: make(map[string]int),
	}
}

// Router builds the gin engine with the interactive routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.POST("/interactive/start", s.startConversation)
	router.POST("/interactive/:session/message", s.continueConversation)
	return router
}

type startRequest struct {
	Prompt       string   `json:"prompt"`
	Repository   string   `json:"repository"`
	Repositories []string `json:"repositories"`
}

type messageRequest struct {
	Message      string   `json:"message"`
	Repository   string   `json:"repository"`
	Repositories []string `json:"repositories"`
}

func (s *Server) startConversation(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "prompt is required"})
		return
	}

	sessionID := uuid.NewString()
	s.mu.Lock()
	s.sessions[sessionID] = 1
	s.mu.Unlock()
	s.logger.Info("conversation started",
		zap.String("session", sessionID),
		zap.String("repository", req.Repository),
		zap.Int("repositories", len(req.Repositories)))

	c.Header(api.SessionIDHeader, sessionID)
	s.streamScript(c)
}

func (s *Server) continueConversation(c *gin.Context) {
	sessionID := c.Param("session")
	s.mu.Lock()
	_, known := s.sessions[sessionID]
	if known {
		s.sessions[sessionID]++
	}
	s.mu.Unlock()
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"message": "session not found"})
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "message is required"})
		return
	}
	s.streamScript(c)
}

func (s *Server) streamScript(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event stream.EventType, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent(stream.EventStart, gin.H{}); err != nil {
		return
	}
	for _, status := range s.script.Statuses {
		if err := sendEvent(stream.EventStatus, status); err != nil {
			return
		}
	}
	for _, delta := range s.script.Deltas {
		if s.script.ChunkDelay > 0 {
			select {
			case <-c.Request.Context().Done():
				return
			case <-time.After(s.script.ChunkDelay):
			}
		}
		if err := sendEvent(stream.EventDelta, stream.DeltaPayload{Content: delta}); err != nil {
			return
		}
	}

	if s.script.ErrorMessage != "" {
		_ = sendEvent(stream.EventError, stream.ErrorPayload{Message: s.script.ErrorMessage})
		return
	}

	if err := sendEvent(stream.EventEnd, gin.H{}); err != nil {
		return
	}
	complete := stream.CompletePayload{MultiRepoResults: s.script.MultiRepoResults}
	if err := sendEvent(stream.EventComplete, complete); err != nil {
		return
	}
	_ = sendEvent("", "[DONE]")
}
