package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
	"teamdesk/pkg/config"
	apperrors "teamdesk/pkg/errors"
	"teamdesk/pkg/logger"
	"teamdesk/pkg/tracing"
	"teamdesk/pkg/utils"
	"teamdesk/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	AllowedOrigins []string

	// Zero disables the per-connection limiter.
	MessagesPerSecond float64
	Burst             int
	// Zero means unlimited.
	MaxConnections int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBuffer:     64,
		MaxMessageSize: 64 * 1024,
		AllowedOrigins: []string{"*"},
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:   cfg.Relay.PingInterval,
		PongTimeout:    cfg.Relay.PongTimeout,
		WriteTimeout:   cfg.Relay.WriteTimeout,
		SendBuffer:     cfg.Relay.SendBuffer,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
		opts.MaxConnections = cfg.RateLimiting.WebSocket.MaxConcurrent
	}
	return opts
}

// WebSocketServer is the relay's websocket transport. Each connection gets
// a relay-assigned endpoint ID, a read loop on the handler goroutine and a
// write pump.
type WebSocketServer struct {
	hub      *Hub
	relay    ports.RelayService
	metrics  ports.RelayMetrics
	opts     Options
	upgrader websocket.Upgrader
	closing  atomic.Bool

	logger *zap.SugaredLogger
	ctxLog *logger.ContextLogger
}

var _ ports.WebSocketHandler = (*WebSocketServer)(nil)

func NewWebSocketServer(hub *Hub, relay ports.RelayService, metrics ports.RelayMetrics, opts Options, log *zap.SugaredLogger) *WebSocketServer {
	s := &WebSocketServer{
		hub:     hub,
		relay:   relay,
		metrics: metrics,
		opts:    opts,
		logger:  log,
		ctxLog:  logger.NewContextLogger(log.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.opts.MaxConnections > 0 && s.hub.Count() >= s.opts.MaxConnections {
		s.metrics.FrameRejected("connection_limit")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	id := domain.EndpointID(utils.GenerateEndpointID())
	ctx := logger.WithEndpointID(context.Background(), id.String())

	var limiter *rate.Limiter
	if s.opts.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}
	c := newConnection(id, conn, s.opts.SendBuffer, limiter)

	hello, _ := json.Marshal(domain.ConnectedNotice{ID: id})
	c.enqueue(encodeFrame(domain.EventConnected, hello))

	s.hub.register(c)
	if err := s.relay.Connect(ctx, id); err != nil {
		s.ctxLog.LogError(ctx, err, "failed to register endpoint")
		s.hub.unregister(id)
		_ = conn.Close()
		return
	}

	go c.writePump(s.opts.PingInterval, s.opts.WriteTimeout)

	s.ctxLog.Sugar(ctx).Infow("endpoint connected", "remote_addr", r.RemoteAddr)
	s.readLoop(ctx, c)

	s.hub.unregister(id)
	c.close()
	if err := s.relay.Disconnect(ctx, id); err != nil {
		s.ctxLog.LogError(ctx, err, "failed to disconnect endpoint")
	}
	s.ctxLog.Sugar(ctx).Infow("endpoint disconnected")
}

func (s *WebSocketServer) readLoop(ctx context.Context, c *connection) {
	if s.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.ctxLog.Sugar(ctx).Warnw("websocket read error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if msgType != websocket.TextMessage {
			s.reject(ctx, c, "binary_frame", apperrors.NewInvalidInputError("only text frames are accepted"))
			continue
		}
		s.handleFrame(ctx, c, raw)
	}
}

func (s *WebSocketServer) handleFrame(ctx context.Context, c *connection, raw []byte) {
	if !c.allow() {
		s.reject(ctx, c, "rate_limited", apperrors.NewRateLimitError())
		return
	}

	var frame domain.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.reject(ctx, c, "malformed", apperrors.NewMalformedFrameError(err))
		return
	}

	ctx, span := tracing.TraceWebSocketMessage(ctx, frame.Event, c.id.String())
	defer span.End()

	var err error
	switch frame.Event {
	case domain.EventJoinRoom:
		err = s.handleJoin(ctx, c, frame.Data)
	case domain.EventLeaveRoom:
		err = s.handleLeave(ctx, c, frame.Data)
	case string(domain.SignalOffer), string(domain.SignalAnswer), string(domain.SignalICECandidate):
		var n int
		n, err = s.relay.Forward(ctx, domain.SignalKind(frame.Event), c.id, frame.Data)
		if err == nil {
			tracing.AddSpanAttributes(ctx, tracing.SignalKindKey.String(frame.Event), tracing.RecipientsKey.Int(n))
		}
	default:
		err = apperrors.NewUnknownEventError(frame.Event)
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		s.reject(ctx, c, "invalid", toAppError(err))
	}
}

func (s *WebSocketServer) handleJoin(ctx context.Context, c *connection, data json.RawMessage) error {
	var req domain.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return apperrors.NewInvalidInputError("join-room expects {room_id, alias}")
	}
	if err := validation.ValidateRoomID(req.RoomID.String()); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateAlias(req.Alias); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}

	tracing.AddSpanAttributes(ctx, tracing.RoomIDKey.String(req.RoomID.String()))
	return s.relay.Join(ctx, c.id, req.RoomID, utils.SanitizeAlias(req.Alias))
}

func (s *WebSocketServer) handleLeave(ctx context.Context, c *connection, data json.RawMessage) error {
	var req domain.LeaveRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		return apperrors.NewInvalidInputError("leave-room expects {room_id}")
	}
	return s.relay.Leave(ctx, c.id, req.RoomID)
}

// reject answers a bad frame with an error event. The connection stays open.
func (s *WebSocketServer) reject(ctx context.Context, c *connection, reason string, appErr *apperrors.AppError) {
	s.metrics.FrameRejected(reason)
	s.ctxLog.Sugar(ctx).Debugw("frame rejected", "reason", reason, "code", appErr.Code, "error", appErr)

	data, _ := json.Marshal(domain.ErrorNotice{Code: string(appErr.Code), Message: appErr.Message})
	c.enqueue(encodeFrame(domain.EventError, data))
}

// Shutdown stops accepting upgrades and closes every connection.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.hub.CloseAll()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for s.hub.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *WebSocketServer) ConnectionCount() int {
	return s.hub.Count()
}

func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	switch {
	case errors.Is(err, domain.ErrInvalidEnvelope), errors.Is(err, domain.ErrUnknownSignal):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal relay error", http.StatusInternalServerError)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
