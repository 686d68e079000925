// Package httpapi exposes the workflow registry over HTTP: a JSON control
// surface plus a websocket stream of ordered node events per workflow.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortex-sre/cortex/internal/logging"
	"github.com/cortex-sre/cortex/internal/metrics"
	"github.com/cortex-sre/cortex/internal/registry"
	"github.com/cortex-sre/cortex/pkg/domain"
)

// Websocket keepalive tuning.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// HealthChecker reports whether downstream collaborators are reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server handles the HTTP surface.
type Server struct {
	registry *registry.Registry
	health   HealthChecker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// Option configures the Server.
type Option func(*Server)

// WithHealthChecker wires the collaborator probe into GET /health.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics exposes the instrument registry on GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the HTTP server around a registry.
func NewServer(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		logger:   logging.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser dashboards connect from any origin; auth is out of
			// scope at this layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/v1/initiate", s.initiate)
	r.Get("/api/v1/workflows/{workflowID}", s.getWorkflow)
	r.Post("/api/v1/workflows/{workflowID}/cancel", s.cancelWorkflow)
	r.Get("/ws/{sessionID}/{workflowID}", s.stream)
	r.Get("/health", s.getHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type initiateRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

type initiateResponse struct {
	WorkflowID string `json:"workflow_id"`
}

// initiate handles POST /api/v1/initiate.
func (s *Server) initiate(w http.ResponseWriter, r *http.Request) {
	var body initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Query == "" || body.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "query and session_id are required")
		return
	}

	wf, err := s.registry.Initiate(r.Context(), body.SessionID, body.Query)
	if err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("initiate failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start workflow")
		return
	}

	s.writeJSON(w, http.StatusAccepted, initiateResponse{WorkflowID: wf.ID})
}

// getWorkflow handles GET /api/v1/workflows/{workflowID}.
func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	view, err := s.registry.Snapshot(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownWorkflow) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("snapshot failed", "workflow_id", workflowID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}

	s.writeJSON(w, http.StatusOK, view)
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

// cancelWorkflow handles POST /api/v1/workflows/{workflowID}/cancel.
func (s *Server) cancelWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var body cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.registry.Cancel(r.Context(), body.SessionID, workflowID); err != nil {
		if errors.Is(err, domain.ErrUnknownWorkflow) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("cancel failed", "workflow_id", workflowID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel workflow")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// getHealth handles GET /health. Collaborator reachability degrades the
// report but the process itself still answers 200.
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["detail"] = err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// stream handles GET /ws/{sessionID}/{workflowID}: full history first, then
// live events, ordered; the connection closes after the terminal flush.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	workflowID := chi.URLParam(r, "workflowID")

	replay, events, unsubscribe, err := s.registry.Subscribe(r.Context(), sessionID, workflowID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrUnknownWorkflow) || errors.Is(err, domain.ErrUnknownSession) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("workflow_id", workflowID, "session_id", sessionID)
	logger.Info("stream attached", "replay", len(replay))

	// Read pump: only control frames are expected, but reads drive pong
	// handling and surface client disconnects.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(data []byte) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	for _, data := range replay {
		if err := write(data); err != nil {
			logger.Warn("stream write failed during replay", "err", err)
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			logger.Info("stream client disconnected")
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-events:
			if !ok {
				// Terminal flush done; say goodbye properly.
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "workflow finished"))
				logger.Info("stream finished")
				return
			}
			if err := write(data); err != nil {
				logger.Warn("stream write failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
