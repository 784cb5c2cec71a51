// Package server exposes the orchestrator as an OpenAI-compatible HTTP
// front-end: POST /chat/completions in both streaming (SSE) and
// non-streaming shapes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
)

// Config tunes the HTTP listener.
type Config struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// Model is the model name echoed in responses.
	Model string `yaml:"model,omitempty"`

	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.Model == "" {
		c.Model = "conductor"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	// Streaming responses hold the connection open across many model and
	// tool calls.
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Minute
	}
}

// Server is the HTTP front-end.
type Server struct {
	cfg  Config
	orch *orchestrator.Orchestrator
	http *http.Server
}

func New(orch *orchestrator.Orchestrator, cfg Config) *Server {
	cfg.SetDefaults()
	s := &Server{cfg: cfg, orch: orch}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/chat/completions", s.handleChatCompletions)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// chatMessage mirrors the OpenAI chat message shape.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model,omitempty"`
	Messages       []chatMessage `json:"messages"`
	Stream         bool          `json:"stream,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	query := lastUserMessage(req.Messages)
	if query == "" {
		writeError(w, http.StatusBadRequest, "no user message in request")
		return
	}

	// Header wins over body; empty lets the core derive a stable id.
	conversationID := r.Header.Get("X-Conversation-ID")
	if conversationID == "" {
		conversationID = req.ConversationID
	}

	opts := orchestrator.Options{
		ConversationID: conversationID,
		Stream:         req.Stream,
	}

	if req.Stream {
		s.streamCompletion(w, r, query, opts)
		return
	}

	text, usage, err := s.orch.RespondBlocking(r.Context(), query, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stop := "stop"
	writeJSON(w, http.StatusOK, chatResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.cfg.Model,
		Choices: []chatChoice{{
			Message:      &chatMessage{Role: "assistant", Content: text},
			FinishReason: &stop,
		}},
		Usage: &chatUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.TotalTokens,
		},
	})
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, query string, opts orchestrator.Options) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	stream, err := s.orch.Respond(r.Context(), query, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := completionID()
	created := time.Now().Unix()

	send := func(resp chatResponse) {
		data, err := json.Marshal(resp)
		if err != nil {
			slog.Warn("Failed to encode stream chunk", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for chunk := range stream {
		switch chunk.Type {
		case llms.ChunkTypeText:
			send(chatResponse{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   s.cfg.Model,
				Choices: []chatChoice{{
					Delta:        &chatMessage{Content: chunk.Text},
					FinishReason: nil,
				}},
			})

		case llms.ChunkTypeUsage:
			stop := "stop"
			resp := chatResponse{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   s.cfg.Model,
				Choices: []chatChoice{{
					Delta:        &chatMessage{},
					FinishReason: &stop,
				}},
			}
			if chunk.Usage != nil {
				resp.Usage = &chatUsage{
					PromptTokens:     chunk.Usage.InputTokens,
					CompletionTokens: chunk.Usage.OutputTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			send(resp)

		case llms.ChunkTypeError:
			slog.Error("Turn failed mid-stream", "error", chunk.Error)
			send(chatResponse{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   s.cfg.Model,
				Choices: []chatChoice{{
					Delta:        &chatMessage{Content: "\n[error: " + chunk.Error.Error() + "]"},
					FinishReason: nil,
				}},
			})
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}
