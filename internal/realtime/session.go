// Package realtime maps duplex websocket connections onto (user, persona)
// sessions and multiplexes chat, heartbeat, status, and error frames over
// them. Frames on one connection are processed strictly in arrival order;
// separate connections are independent.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
	apirealtime "github.com/tiger/persona-bridge/api/realtime"
	"github.com/tiger/persona-bridge/internal/audit"
	"github.com/tiger/persona-bridge/internal/bridge/health"
	"github.com/tiger/persona-bridge/internal/bridge/metrics"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultIdleTimeout      = 5 * time.Minute
	maxFrameBytes           = 64 * 1024
	writeTimeout            = 10 * time.Second
	auditTimeout            = 2 * time.Second
)

// ChatRouter is the routing capability the session layer needs.
type ChatRouter interface {
	Route(ctx context.Context, req apibridge.ProcessingRequest) (apibridge.ProcessingResult, error)
}

// Config tunes per-connection behavior.
type Config struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	Now              func() time.Time
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Handler owns every realtime connection's lifecycle.
type Handler struct {
	cfg     Config
	router  ChatRouter
	tracker *Tracker
	healthT *health.Tracker
	metrics *metrics.Aggregator
	auditEx *audit.Store
	logger  *zap.Logger
}

// NewHandler wires the session layer. auditStore and logger may be nil.
func NewHandler(cfg Config, router ChatRouter, tracker *Tracker, healthT *health.Tracker, agg *metrics.Aggregator, auditStore *audit.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:     cfg.withDefaults(),
		router:  router,
		tracker: tracker,
		healthT: healthT,
		metrics: agg,
		auditEx: auditStore,
		logger:  logger,
	}
}

// statusData is the payload of an outbound status frame.
type statusData struct {
	Session Session           `json:"session"`
	Health  *health.Record    `json:"health,omitempty"`
	Metrics metrics.Snapshot  `json:"metrics"`
}

// Serve drives one upgraded connection until it closes. The first inbound
// frame must identify {userId, personaId}; it is then dispatched like any
// other frame so a client may open with its first chat message.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	state := newFSM()

	// Unblock the read loop when the server shuts down.
	var closeOnce sync.Once
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			closeOnce.Do(func() { conn.Close() })
		case <-watchDone:
		}
	}()

	_ = conn.SetReadDeadline(h.cfg.Now().Add(h.cfg.HandshakeTimeout))
	messageType, raw, err := conn.ReadMessage()
	if err != nil || messageType != websocket.TextMessage {
		h.closeWithError(conn, state, "", "bad_handshake", "first frame must arrive within the handshake window")
		return
	}
	first, err := apirealtime.DecodeInbound(raw)
	if err != nil {
		h.closeWithError(conn, state, "", "invalid_frame", err.Error())
		return
	}
	if first.UserID == "" || first.PersonaID == "" {
		h.closeWithError(conn, state, first.RequestID, "unidentified", "first frame must carry userId and personaId")
		return
	}

	sessionID := uuid.NewString()
	sess, err := h.tracker.Register(sessionID, first.UserID, first.PersonaID)
	if err != nil {
		h.closeWithError(conn, state, first.RequestID, "internal_error", "session could not be registered")
		return
	}
	if err := state.Open(); err != nil {
		h.logger.Error("connection state corrupted", zap.String("session", sessionID), zap.Error(err))
		return
	}
	h.auditSessionStarted(sess)
	h.logger.Info("realtime session opened",
		zap.String("session", sessionID),
		zap.String("user", sess.UserID),
		zap.String("persona", string(sess.PersonaID)))

	h.dispatch(ctx, conn, sess, first)

	for {
		_ = conn.SetReadDeadline(h.cfg.Now().Add(h.cfg.IdleTimeout))
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			h.writeFrame(conn, apirealtime.NewErrorFrame("invalid_frame", "frames must be JSON text", h.nowMS(), ""))
			continue
		}
		frame, err := apirealtime.DecodeInbound(raw)
		if err != nil {
			h.writeFrame(conn, apirealtime.NewErrorFrame("invalid_frame", err.Error(), h.nowMS(), ""))
			continue
		}
		h.dispatch(ctx, conn, sess, frame)
	}

	state.BeginClose()
	h.tracker.MarkInactive(sessionID)
	h.auditSessionEnded(sessionID)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		h.cfg.Now().Add(writeTimeout))
	if err := state.Close(); err != nil {
		h.logger.Error("connection state corrupted", zap.String("session", sessionID), zap.Error(err))
	}
	h.logger.Info("realtime session closed", zap.String("session", sessionID))
}

func (h *Handler) dispatch(ctx context.Context, conn *websocket.Conn, sess Session, frame apirealtime.Frame) {
	if frame.PersonaID != "" && frame.PersonaID != sess.PersonaID {
		h.writeFrame(conn, apirealtime.NewErrorFrame("persona_mismatch",
			"session is bound to persona "+string(sess.PersonaID), h.nowMS(), frame.RequestID))
		return
	}

	switch frame.Type {
	case apirealtime.FrameChat:
		h.handleChat(ctx, conn, sess, frame)
	case apirealtime.FrameHeartbeat:
		h.tracker.Touch(sess.ID, false)
		h.writeFrame(conn, apirealtime.Frame{
			Type:        apirealtime.FrameHeartbeat,
			UserID:      sess.UserID,
			TimestampMS: h.nowMS(),
		})
	case apirealtime.FrameStatus:
		h.handleStatus(conn, sess, frame)
	default:
		h.writeFrame(conn, apirealtime.NewErrorFrame("invalid_frame",
			"unsupported frame type", h.nowMS(), frame.RequestID))
	}
}

func (h *Handler) handleChat(ctx context.Context, conn *websocket.Conn, sess Session, frame apirealtime.Frame) {
	var data apirealtime.ChatData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		h.writeFrame(conn, apirealtime.NewErrorFrame("invalid_frame", "malformed chat data", h.nowMS(), frame.RequestID))
		return
	}

	result, err := h.router.Route(ctx, apibridge.ProcessingRequest{
		UserID:    sess.UserID,
		PersonaID: sess.PersonaID,
		Text:      data.Message,
		Options:   data.Options,
	})
	if err != nil {
		h.writeFrame(conn, apirealtime.NewErrorFrame(apibridge.ErrorCode(err), err.Error(), h.nowMS(), frame.RequestID))
		return
	}

	h.tracker.Touch(sess.ID, true)
	h.auditMessage(sess.ID)

	payload, err := json.Marshal(result)
	if err != nil {
		h.writeFrame(conn, apirealtime.NewErrorFrame("internal_error", "result could not be encoded", h.nowMS(), frame.RequestID))
		return
	}
	h.writeFrame(conn, apirealtime.Frame{
		Type:        apirealtime.FrameChat,
		UserID:      sess.UserID,
		PersonaID:   sess.PersonaID,
		Data:        payload,
		TimestampMS: h.nowMS(),
		RequestID:   frame.RequestID,
	})
}

func (h *Handler) handleStatus(conn *websocket.Conn, sess Session, frame apirealtime.Frame) {
	current, _ := h.tracker.Get(sess.ID)
	data := statusData{Session: current}
	if h.healthT != nil {
		if record, ok := h.healthT.Record(sess.PersonaID); ok {
			data.Health = &record
		}
	}
	if h.metrics != nil {
		data.Metrics = h.metrics.Snapshot()
	}

	payload, err := json.Marshal(data)
	if err != nil {
		h.writeFrame(conn, apirealtime.NewErrorFrame("internal_error", "status could not be encoded", h.nowMS(), frame.RequestID))
		return
	}
	h.writeFrame(conn, apirealtime.Frame{
		Type:        apirealtime.FrameStatus,
		UserID:      sess.UserID,
		PersonaID:   sess.PersonaID,
		Data:        payload,
		TimestampMS: h.nowMS(),
		RequestID:   frame.RequestID,
	})
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame apirealtime.Frame) {
	_ = conn.SetWriteDeadline(h.cfg.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Warn("realtime write failed", zap.Error(err))
	}
}

func (h *Handler) closeWithError(conn *websocket.Conn, state *fsm, requestID, code, message string) {
	h.writeFrame(conn, apirealtime.NewErrorFrame(code, message, h.nowMS(), requestID))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		h.cfg.Now().Add(writeTimeout))
	state.BeginClose()
	_ = state.Close()
}

func (h *Handler) nowMS() int64 {
	return h.cfg.Now().UnixMilli()
}

func (h *Handler) auditSessionStarted(sess Session) {
	if h.auditEx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := h.auditEx.SessionStarted(ctx, audit.Session{
		ID:        sess.ID,
		UserID:    sess.UserID,
		PersonaID: sess.PersonaID,
		RoomID:    sess.RoomID,
		StartedAt: sess.StartTime,
	}); err != nil {
		h.logger.Warn("audit write failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

func (h *Handler) auditMessage(sessionID string) {
	if h.auditEx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := h.auditEx.MessageRecorded(ctx, sessionID, h.cfg.Now()); err != nil {
		h.logger.Warn("audit write failed", zap.String("session", sessionID), zap.Error(err))
	}
}

func (h *Handler) auditSessionEnded(sessionID string) {
	if h.auditEx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := h.auditEx.SessionEnded(ctx, sessionID, h.cfg.Now()); err != nil {
		h.logger.Warn("audit write failed", zap.String("session", sessionID), zap.Error(err))
	}
}
