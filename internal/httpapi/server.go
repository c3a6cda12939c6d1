package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/ridewallet/internal/agent"
	"github.com/ent0n29/ridewallet/internal/config"
	"github.com/ent0n29/ridewallet/internal/observability"
	"github.com/ent0n29/ridewallet/internal/protocol"
	"github.com/ent0n29/ridewallet/internal/session"
	"github.com/ent0n29/ridewallet/internal/tools"
)

const maxToolArgsBytes = 1 << 20

// AgentBuilder creates the agent bound to a new session.
type AgentBuilder func(sessionID, username, authKey string) (*agent.Agent, error)

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	newAgent  AgentBuilder
	auditMode string
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, newAgent AgentBuilder, auditMode string, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		newAgent:  newAgent,
		auditMode: auditMode,
		metrics:   metrics,
		logger:    logger.Named("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Runtime workers are not browsers and usually omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/agent/sessions", s.handleCreateSession)
	r.Get("/v1/agent/sessions/ws", s.handleSessionWS)
	r.Put("/v1/agent/sessions/{id}/auth", s.handleRotateAuth)
	r.Get("/v1/agent/sessions/{id}/tools", s.handleListTools)
	r.Post("/v1/agent/sessions/{id}/tools/{name}", s.handleToolCall)
	r.Get("/v1/agent/sessions/{id}/flow", s.handleFlowStatus)
	r.Post("/v1/agent/sessions/{id}/end", s.handleEndSession)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
		"audit_mode":      s.auditMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.newAgent == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "agent builder not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"audit_mode": s.auditMode,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.sessions.Create(func(id string) (*agent.Agent, error) {
		return s.newAgent(id, req.Username, req.AuthKey)
	})
	if err != nil {
		if errors.Is(err, agent.ErrMissingIdentity) {
			respondError(w, http.StatusBadRequest, "invalid_identity", err.Error())
			return
		}
		s.logger.Error("create session failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "session_create_failed", "could not start agent session")
		return
	}
	s.metrics.ObserveSessionEvent("created", s.sessions.ActiveCount())
	s.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("username", sess.Username))

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		Username:        sess.Username,
		Status:          sess.Status,
		Instructions:    sess.Agent.Instructions(),
		Greeting:        sess.Agent.OnEnter(r.Context()),
		Tools:           sess.Agent.Tools(),
		StartedAt:       sess.StartedAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleRotateAuth(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession(w, r)
	if !ok {
		return
	}
	var req session.AuthUpdateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := sess.Agent.RotateAuth(req.AuthKey); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_identity", err.Error())
		return
	}
	_ = s.sessions.Touch(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tools": sess.Agent.Tools()})
}

// handleToolCall answers 200 for structured tool failures too; only an
// unusable session is an HTTP error.
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	args, err := io.ReadAll(io.LimitReader(r.Body, maxToolArgsBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.runTool(r.Context(), sess, tools.Call{
		ID:        strings.TrimSpace(r.Header.Get("X-Call-ID")),
		Name:      chi.URLParam(r, "name"),
		Arguments: args,
	})
	if err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleFlowStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.activeSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Agent.FlowStatus())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ObserveSessionEvent("ended", s.sessions.ActiveCount())
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sess, err := s.sessions.Active(sessionID)
	if err != nil {
		respondSessionError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected", s.sessions.ActiveCount())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)
	runDone := make(chan struct{})

	// The runner owns outbound. When it stops (client gone or session
	// ended) the writer flushes what is queued and closes the socket,
	// which also ends the read loop below.
	go func() {
		defer close(runDone)
		defer cancel()
		defer close(outbound)
		s.runConnection(ctx, sess, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		failed := false
		for msg := range outbound {
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.ObserveWSMessage("outbound_error", "write_json")
				failed = true
				cancel()
				continue
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
		if !failed {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxToolArgsBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case inbound <- errEvent:
			default:
				// The runner relays error events; drop when its queue is full.
				s.metrics.ObserveWSMessage("outbound_dropped", string(protocol.TypeErrorEvent))
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected", s.sessions.ActiveCount())
}

// runTool dispatches one call on a session that is still active. The check
// runs per call because a session can end while a websocket stays open.
func (s *Server) runTool(ctx context.Context, sess *session.Session, call tools.Call) (tools.Result, error) {
	if _, err := s.sessions.Active(sess.ID); err != nil {
		return tools.Result{}, err
	}
	res := sess.Agent.Call(ctx, call)
	_ = s.sessions.RecordToolCall(sess.ID)
	return res, nil
}

func (s *Server) activeSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, false
	}
	sess, err := s.sessions.Active(id)
	if err != nil {
		respondSessionError(w, err)
		return nil, false
	}
	return sess, true
}

func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "session_error", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxToolArgsBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ToolCall:
		return m.Type, true
	case protocol.AuthUpdate:
		return m.Type, true
	case protocol.SessionGreeting:
		return m.Type, true
	case protocol.ToolResult:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
