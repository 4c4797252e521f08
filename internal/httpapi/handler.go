// Package httpapi is the inbound HTTP surface: a streaming chat endpoint,
// a health probe, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/danielpatrickdp/sheetwise/internal/errs"
	"github.com/danielpatrickdp/sheetwise/internal/oracle"
	"github.com/danielpatrickdp/sheetwise/internal/orchestrator"
)

// Answerer runs one question. *orchestrator.Orchestrator satisfies it.
type Answerer interface {
	Handle(ctx context.Context, conv oracle.Conversation, streamer orchestrator.TokenStreamer) (*orchestrator.Run, error)
}

// ChatHandler streams answers over server-sent events.
type ChatHandler struct {
	Answerer Answerer
	Timeout  time.Duration
	Logger   *logrus.Logger
}

// #region request

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content string     `json:"content,omitempty"`
	Parts   []chatPart `json:"parts,omitempty"`
}

type chatPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (m chatMessage) text() string {
	if m.Content != "" {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// toConversation keeps user and assistant text. Other roles are dropped.
func toConversation(msgs []chatMessage) oracle.Conversation {
	conv := make(oracle.Conversation, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			conv = append(conv, oracle.UserText(m.text()))
		case "assistant":
			if t := m.text(); t != "" {
				conv = append(conv, oracle.AssistantTurn(t, nil))
			}
		}
	}
	return conv
}

// #endregion request

// #region routes

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *ChatHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, h)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// RegisterRoutes attaches the chat endpoint.
func RegisterRoutes(router gin.IRoutes, h *ChatHandler) {
	router.POST("/api/chat", h.HandleChat)
}

// #endregion routes

// #region handler

func (h *ChatHandler) HandleChat(c *gin.Context) {
	if h == nil || h.Answerer == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "orchestrator unavailable"})
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	conv := toConversation(req.Messages)
	if strings.TrimSpace(orchestrator.UserQuestion(conv)) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs.ErrEmptyQuestion.Error()})
		return
	}

	streamer, err := newSSEStreamer(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unavailable"})
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	run, err := h.Answerer.Handle(ctx, conv, streamer)
	if err != nil {
		h.logger().WithError(err).Warn("[HTTP] run failed")
		_ = streamer.SendError(clientMessage(err))
	}
	_ = streamer.SendDone(run)
}

func (h *ChatHandler) logger() *logrus.Logger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

// clientMessage maps a run failure onto what the caller is told.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, errs.ErrStepBudgetExceeded):
		return "could not complete the answer within the step limit"
	case errors.Is(err, errs.ErrConfiguration):
		return "server is misconfigured"
	case errors.Is(err, errs.ErrOracle):
		return "language model unavailable"
	default:
		return "internal error"
	}
}

// #endregion handler

// #region sse

type sseEvent struct {
	Type    string   `json:"type"`
	Content string   `json:"content,omitempty"`
	Tool    string   `json:"tool,omitempty"`
	Error   string   `json:"error,omitempty"`
	RunID   string   `json:"runId,omitempty"`
	State   string   `json:"state,omitempty"`
	Sources []string `json:"sources,omitempty"`
}

type sseStreamer struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
}

func newSSEStreamer(writer http.ResponseWriter) (*sseStreamer, error) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	return &sseStreamer{writer: writer, flusher: flusher}, nil
}

func (s *sseStreamer) SendToken(token string) error {
	return s.send(sseEvent{Type: "token", Content: token})
}

func (s *sseStreamer) SendToolStart(tool string) error {
	return s.send(sseEvent{Type: "tool_start", Tool: tool})
}

func (s *sseStreamer) SendToolEnd(tool, errMsg string) error {
	return s.send(sseEvent{Type: "tool_end", Tool: tool, Error: errMsg})
}

func (s *sseStreamer) SendError(msg string) error {
	return s.send(sseEvent{Type: "error", Error: msg})
}

func (s *sseStreamer) SendDone(run *orchestrator.Run) error {
	ev := sseEvent{Type: "done"}
	if run != nil {
		ev.RunID = run.ID
		ev.State = string(run.State)
		ev.Sources = run.Selection.Names()
	}
	if err := s.send(ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.writer, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStreamer) send(ev sseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// #endregion sse
