// Package api exposes the agent's operations over HTTP.
//
// This is a thin JSON transport: all behavior lives in the agent,
// registry, session, and metrics packages. Presentation is someone
// else's problem.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/matchagon/bookly-agent/internal/agent"
	"github.com/matchagon/bookly-agent/internal/buildinfo"
	"github.com/matchagon/bookly-agent/internal/metrics"
	"github.com/matchagon/bookly-agent/internal/registry"
	"github.com/matchagon/bookly-agent/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]any{"success": false, "error": msg}, logger)
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	loop     *agent.Loop
	registry *registry.Registry
	sessions *session.Store
	metrics  *metrics.Aggregator
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates an API server over the agent's components.
func NewServer(address string, port int, loop *agent.Loop, reg *registry.Registry, sessions *session.Store, agg *metrics.Aggregator, logger *slog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		loop:     loop,
		registry: reg,
		sessions: sessions,
		metrics:  agg,
		logger:   logger,
	}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Conversation surface
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleReset)

	// Analytics surface
	mux.HandleFunc("GET /v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)

	// Admin surface
	mux.HandleFunc("GET /v1/policy", s.handleGetPolicy)
	mux.HandleFunc("PUT /v1/policy", s.handlePutPolicy)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("POST /v1/tools", s.handleCreateTool)
	mux.HandleFunc("GET /v1/tools/{name}", s.handleGetTool)
	mux.HandleFunc("PUT /v1/tools/{name}", s.handleReplaceTool)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	return mux
}

// Start begins serving HTTP requests and blocks until ctx is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("API server: %w", err)
	}
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty", s.logger)
		return
	}
	if req.SessionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not allocate session id", s.logger)
			return
		}
		req.SessionID = id.String()
	}

	reply, err := s.loop.HandleTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away; partial history is already persisted.
			return
		}
		s.logger.Error("turn failed", "session", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "turn failed", s.logger)
		return
	}

	s.metrics.Invalidate()
	writeJSON(w, map[string]any{
		"success":    true,
		"session_id": req.SessionID,
		"response":   reply,
	}, s.logger)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := s.sessions.Reset(sessionID); err != nil {
		s.logger.Error("reset failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "reset failed", s.logger)
		return
	}
	writeJSON(w, map[string]any{"success": true}, s.logger)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", 30)
	snap, err := s.metrics.Window(days)
	if err != nil {
		s.logger.Error("metrics aggregation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "metrics unavailable", s.logger)
		return
	}
	writeJSON(w, snap, s.logger)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	filter := session.Filter{
		Days:  intQuery(r, "days", 30),
		Topic: r.URL.Query().Get("topic"),
	}
	if v := r.URL.Query().Get("min_user_messages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MinUserMessages = &n
		}
	}
	if v := r.URL.Query().Get("max_user_messages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MaxUserMessages = &n
		}
	}

	records, err := s.sessions.ListRecords(filter)
	if err != nil {
		s.logger.Error("conversation listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing failed", s.logger)
		return
	}
	writeJSON(w, map[string]any{"conversations": records}, s.logger)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	record, messages, err := s.sessions.GetRecord(sessionID)
	if err != nil {
		s.logger.Error("conversation read failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "read failed", s.logger)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}
	writeJSON(w, map[string]any{
		"conversation": record,
		"messages":     messages,
	}, s.logger)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policy := s.registry.Snapshot().Policy()
	writeJSON(w, policy, s.logger)
}

type policyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if err := s.registry.PublishPolicy(req.Text); err != nil {
		s.writePublishError(w, err)
		return
	}
	writeJSON(w, s.registry.Snapshot().Policy(), s.logger)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"tools": s.registry.Snapshot().Tools()}, s.logger)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	def, ok := s.registry.Snapshot().Tool(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("tool %q not found", name), s.logger)
		return
	}
	writeJSON(w, def, s.logger)
}

func (s *Server) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var def registry.ToolDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if err := s.registry.CreateTool(def); err != nil {
		s.writePublishError(w, err)
		return
	}
	def, _ = s.registry.Snapshot().Tool(def.Name)
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, def, s.logger)
}

func (s *Server) handleReplaceTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var def registry.ToolDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if def.Name == "" {
		def.Name = name
	}
	if def.Name != name {
		writeError(w, http.StatusBadRequest, "tool name in body does not match URL", s.logger)
		return
	}
	if err := s.registry.ReplaceTool(def); err != nil {
		s.writePublishError(w, err)
		return
	}
	def, _ = s.registry.Snapshot().Tool(name)
	writeJSON(w, def, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// writePublishError maps registry publish failures onto status codes:
// validation failures are the caller's fault, anything else is ours.
func (s *Server) writePublishError(w http.ResponseWriter, err error) {
	var verr *registry.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, verr.Error(), s.logger)
		return
	}
	s.logger.Error("registry publish failed", "error", err)
	writeError(w, http.StatusInternalServerError, "publish failed", s.logger)
}

func intQuery(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
