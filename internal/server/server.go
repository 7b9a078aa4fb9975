// Package server exposes the bridge over HTTP: the chat endpoint, health and
// metrics reporting, and the realtime websocket upgrade.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
	"github.com/tiger/persona-bridge/internal/audit"
	"github.com/tiger/persona-bridge/internal/bridge/health"
	"github.com/tiger/persona-bridge/internal/bridge/metrics"
	"github.com/tiger/persona-bridge/internal/bridge/pool"
	"github.com/tiger/persona-bridge/internal/realtime"
)

// Config carries the server's own settings.
type Config struct {
	APIKey string
}

// ChatRouter is the routing capability the HTTP surface needs.
type ChatRouter interface {
	Route(ctx context.Context, req apibridge.ProcessingRequest) (apibridge.ProcessingResult, error)
}

// Server wires the HTTP surface. Build it with New and mount Handler().
type Server struct {
	cfg      Config
	logger   *zap.Logger
	mux      *http.ServeMux
	router   ChatRouter
	pool     *pool.Pool
	healthT  *health.Tracker
	metrics  *metrics.Aggregator
	sessions *realtime.Tracker
	live     *realtime.Handler
	auditEx  *audit.Store

	baseCtx context.Context
}

// New assembles the server. auditStore may be nil; live may be nil when the
// realtime surface is disabled.
func New(cfg Config, router ChatRouter, p *pool.Pool, healthT *health.Tracker, agg *metrics.Aggregator, sessions *realtime.Tracker, live *realtime.Handler, auditStore *audit.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		router:   router,
		pool:     p,
		healthT:  healthT,
		metrics:  agg,
		sessions: sessions,
		live:     live,
		auditEx:  auditStore,
		baseCtx:  context.Background(),
	}
	s.routes()
	return s
}

// SetBaseContext sets the context realtime sessions are bound to, so an
// orchestrator shutdown closes open connections.
func (s *Server) SetBaseContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/chat", s.handleChat)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	s.mux.HandleFunc("/realtime", s.handleRealtime)
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = APIKey(s.cfg.APIKey, h)
	h = Recover(s.logger, h)
	h = AccessLog(s.logger, h)
	h = RequestID(h)
	return h
}

type chatResponse struct {
	Success bool                       `json:"success"`
	Result  apibridge.ProcessingResult `json:"result"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	reqID, _ := RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST", reqID)
		return
	}
	if !s.pool.Initialized() {
		writeError(w, http.StatusServiceUnavailable, "pool_uninitialized", "runtime pool is not initialized", reqID)
		return
	}

	var req apibridge.ProcessingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body", reqID)
		return
	}

	result, err := s.router.Route(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), apibridge.ErrorCode(err), err.Error(), reqID)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Success: true, Result: result})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apibridge.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, apibridge.ErrRuntimeNotFound):
		return http.StatusNotFound
	case errors.Is(err, apibridge.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, apibridge.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type memoryStats struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGC           uint32 `json:"numGC"`
	Goroutines      int    `json:"goroutines"`
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status         string                      `json:"status"`
	UptimeSeconds  float64                     `json:"uptimeSeconds"`
	ActiveSessions int                         `json:"activeSessions"`
	Personas       []health.Record             `json:"personas,omitempty"`
	Memory         *memoryStats                `json:"memory,omitempty"`
	Dependencies   map[string]dependencyStatus `json:"dependencies,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID, _ := RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", reqID)
		return
	}

	resp := healthResponse{
		Status:        "healthy",
		UptimeSeconds: s.metrics.Uptime().Seconds(),
	}
	if s.sessions != nil {
		resp.ActiveSessions = s.sessions.ActiveCount()
	}

	status := http.StatusOK
	if !s.pool.Initialized() {
		resp.Status = "initializing"
		status = http.StatusServiceUnavailable
	} else {
		unhealthy := 0
		records := s.healthT.Records()
		for _, rec := range records {
			if rec.Status == health.StatusUnhealthy.String() {
				unhealthy++
			}
		}
		switch {
		case len(records) > 0 && unhealthy == len(records):
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		case unhealthy > 0:
			resp.Status = "degraded"
		}
	}

	if parseBool(r.URL.Query().Get("detailed")) {
		resp.Personas = s.healthT.Records()
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		resp.Memory = &memoryStats{
			AllocBytes:      mem.Alloc,
			TotalAllocBytes: mem.TotalAlloc,
			SysBytes:        mem.Sys,
			NumGC:           mem.NumGC,
			Goroutines:      runtime.NumGoroutine(),
		}
	}

	if parseBool(r.URL.Query().Get("checks")) {
		resp.Dependencies = map[string]dependencyStatus{}
		if s.auditEx != nil {
			if err := s.auditEx.Ping(r.Context()); err != nil {
				resp.Dependencies["audit"] = dependencyStatus{Status: "error", Error: err.Error()}
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
			} else {
				resp.Dependencies["audit"] = dependencyStatus{Status: "ok"}
			}
		}
		if s.pool.Initialized() {
			resp.Dependencies["pool"] = dependencyStatus{Status: "ok"}
		} else {
			resp.Dependencies["pool"] = dependencyStatus{Status: "error", Error: "not initialized"}
		}
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	reqID, _ := RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", reqID)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	reqID, _ := RequestIDFrom(r.Context())
	if s.live == nil {
		writeError(w, http.StatusNotImplemented, "realtime_disabled", "realtime surface is disabled", reqID)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET", reqID)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Warn("websocket upgrade failed", zap.String("requestId", reqID), zap.Error(err))
		return
	}
	s.live.Serve(s.baseCtx, conn)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, errorResponse{Error: errorBody{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}})
}
