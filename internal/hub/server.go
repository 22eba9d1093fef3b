package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agenthub/internal/agent"
	"agenthub/internal/logging"
	"agenthub/internal/protocol"
)

type ServerOptions struct {
	ListenAddr    string
	InternalToken string
	Logger        logging.Logger
}

// Server is the hub's HTTP read/drive surface.
type Server struct {
	hub    *Hub
	opts   ServerOptions
	logger logging.Logger
}

func NewServer(hub *Hub, opts ServerOptions) *Server {
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":8090"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(nil)
	}
	return &Server{hub: hub, opts: opts, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/collaboration-modes", s.handleCollaborationModes)
	mux.HandleFunc("/api/threads", s.handleThreads)
	mux.HandleFunc("/api/threads/", s.handleThreadSubresource)
	mux.HandleFunc("/api/trace/start", s.handleTraceStart)
	mux.HandleFunc("/api/trace/mark", s.handleTraceMark)
	mux.HandleFunc("/api/trace/replay", s.handleReplay)
	mux.HandleFunc("/api/events", s.handleEventsSSE)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("hub listening", "addr", s.opts.ListenAddr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.InternalToken == "" {
		return true
	}
	if r.Header.Get("X-Internal-Token") != s.opts.InternalToken {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.hub.Agents()})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	models, err := s.hub.Models(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleCollaborationModes(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	modes, err := s.hub.CollaborationModes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modes": modes})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		result, err := s.hub.ListThreads(r.Context(), r.URL.Query().Get("agentId"), agent.ListThreadsOptions{
			Limit:    queryInt(r, "limit", 0),
			Archived: r.URL.Query().Get("archived") == "true",
			All:      r.URL.Query().Get("all") == "true",
			MaxPages: queryInt(r, "maxPages", 0),
			Cursor:   r.URL.Query().Get("cursor"),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"threads":    result.Threads,
			"nextCursor": result.NextCursor,
		})
	case http.MethodPost:
		var body StartThreadBody
		if err := DecodeStrictBody("start-thread", r.Body, &body); err != nil {
			writeError(w, err)
			return
		}
		thread, err := s.hub.StartThread(r.Context(), body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, thread)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleThreadSubresource(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/threads/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	threadID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		thread, err := s.hub.ReadThread(r.Context(), threadID, r.URL.Query().Get("includeTurns") == "true")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
		return
	}

	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	switch parts[1] {
	case "messages":
		s.handleSendMessage(w, r, threadID)
	case "interrupt":
		s.handleInterrupt(w, r, threadID)
	case "mode":
		s.handleSetMode(w, r, threadID)
	case "input":
		s.handleSubmitInput(w, r, threadID)
	case "live":
		s.handleLiveState(w, r, threadID)
	case "events":
		s.handleStreamEvents(w, r, threadID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body SendMessageBody
	if err := DecodeStrictBody("send-message", r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.hub.SendMessage(r.Context(), threadID, body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body InterruptBody
	if err := DecodeStrictBody("interrupt", r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.hub.Interrupt(r.Context(), threadID, body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body SetModeBody
	if err := DecodeStrictBody("set-mode", r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.hub.SetCollaborationMode(r.Context(), threadID, body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitInput(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body SubmitUserInputBody
	if err := DecodeStrictBody("submit-user-input", r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.hub.SubmitUserInput(r.Context(), threadID, body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLiveState(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	thread, err := s.hub.LiveState(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationState": thread.Conversation,
		"ownerClientId":     thread.OwnerClientID,
		"version":           thread.Version,
	})
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	events, err := s.hub.StreamEvents(r.Context(), threadID, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleTraceStart(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body TraceStartBody
	if err := DecodeStrictBody("trace-start", r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	trace := s.hub.TraceStart(body)
	writeJSON(w, http.StatusCreated, map[string]string{"traceId": trace.ID})
}

func (s *Server) handleTraceMark(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body TraceMarkBody
	if err := DecodeStrictBody("trace-mark", r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	trace, err := s.hub.TraceMark(body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traceId": trace.ID,
		"marks":   trace.Marks,
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body ReplayBody
	if err := DecodeStrictBody("replay", r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	threads, err := s.hub.Replay(body)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]any, len(threads))
	for threadID, thread := range threads {
		out[threadID] = map[string]any{
			"conversationState": thread.Conversation,
			"version":           thread.Version,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, ch, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	io.WriteString(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			io.WriteString(w, "event: state\n")
			io.WriteString(w, "data: ")
			w.Write(msg)
			io.WriteString(w, "\n\n")
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: validation
// failures are the client's fault, unknown threads/agents are 404s,
// missing capabilities are 409s, anything else is a bad gateway.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *protocol.ValidationError
	var capabilityErr *agent.ErrCapabilityUnavailable
	var noCapable *ErrNoCapableAgent
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation_failed",
			"schema": validationErr.Schema,
			"issues": validationErr.Issues,
		})
	case errors.Is(err, ErrUnknownThread), errors.Is(err, ErrNoAgent):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &capabilityErr), errors.As(err, &noCapable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
