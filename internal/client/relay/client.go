// Package relay is the client side of the rendezvous relay protocol. A
// process holds one Client and shares it across all of its sessions.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
	"teamdesk/pkg/config"
	"teamdesk/pkg/retry"
	"teamdesk/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrClosed         = errors.New("relay client closed")
	ErrSendBufferFull = errors.New("relay send buffer full")
	errNoHandshake    = errors.New("relay did not send a connected notice")
)

type Options struct {
	// DialAttempts bounds each dial round; reconnect keeps running rounds
	// until the client is closed.
	DialAttempts     int
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
	MaxMessageSize   int64
	Dialer           *websocket.Dialer
}

func DefaultOptions() Options {
	return Options{
		DialAttempts:     5,
		ReconnectDelay:   time.Second,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     25 * time.Second,
		PongTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		SendBuffer:       64,
		MaxMessageSize:   64 * 1024,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.DialAttempts = cfg.Client.DialAttempts
	opts.ReconnectDelay = cfg.Client.ReconnectDelay
	opts.PingInterval = cfg.Relay.PingInterval
	opts.PongTimeout = cfg.Relay.PongTimeout
	opts.WriteTimeout = cfg.Relay.WriteTimeout
	if cfg.RateLimiting.WebSocket.MaxMessageSizeBytes > 0 {
		opts.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	return opts
}

type Client struct {
	url    string
	opts   Options
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	link   *link
	id     domain.EndpointID
	rooms  map[domain.RoomID]string
	closed bool

	subMu         sync.RWMutex
	nextSub       uint64
	signalSubs    map[domain.SignalKind]map[uint64]func(domain.Envelope)
	userConnected map[uint64]func(domain.UserConnectedNotice)
	reconnected   map[uint64]func(domain.EndpointID)
}

var _ ports.SignalingClient = (*Client)(nil)

func NewClient(url string, opts Options, logger *zap.SugaredLogger) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.DialAttempts <= 0 {
		opts.DialAttempts = 1
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:           url,
		opts:          opts,
		logger:        logger.With("relay", url),
		ctx:           ctx,
		cancel:        cancel,
		rooms:         make(map[domain.RoomID]string),
		signalSubs:    make(map[domain.SignalKind]map[uint64]func(domain.Envelope)),
		userConnected: make(map[uint64]func(domain.UserConnectedNotice)),
		reconnected:   make(map[uint64]func(domain.EndpointID)),
	}
}

// Connect dials the relay and waits for the endpoint ID it assigns.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	l, id, err := c.dialWithRetry(ctx)
	if err != nil {
		return err
	}
	c.install(l, id)
	c.logger.Infow("connected to relay", "endpoint_id", id)
	return nil
}

// ID is the endpoint ID of the current connection. It changes after a
// reconnect.
func (c *Client) ID() domain.EndpointID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link != nil
}

// JoinRoom records the room so it is joined again after a reconnect.
func (c *Client) JoinRoom(ctx context.Context, room domain.RoomID, alias string) error {
	c.mu.Lock()
	c.rooms[room] = alias
	c.mu.Unlock()
	return c.write(ctx, domain.EventJoinRoom, domain.JoinRequest{RoomID: room, Alias: alias})
}

func (c *Client) LeaveRoom(ctx context.Context, room domain.RoomID) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	return c.write(ctx, domain.EventLeaveRoom, domain.LeaveRequest{RoomID: room})
}

func (c *Client) Send(kind domain.SignalKind, env domain.Envelope) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownSignal, kind)
	}
	return c.write(context.Background(), string(kind), env)
}

// Subscribe registers fn for envelopes of kind. Handlers run on the read
// goroutine and must not block.
func (c *Client) Subscribe(kind domain.SignalKind, fn func(domain.Envelope)) func() {
	c.subMu.Lock()
	c.nextSub++
	key := c.nextSub
	if c.signalSubs[kind] == nil {
		c.signalSubs[kind] = make(map[uint64]func(domain.Envelope))
	}
	c.signalSubs[kind][key] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.signalSubs[kind], key)
			c.subMu.Unlock()
		})
	}
}

func (c *Client) OnUserConnected(fn func(domain.UserConnectedNotice)) func() {
	c.subMu.Lock()
	c.nextSub++
	key := c.nextSub
	c.userConnected[key] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.userConnected, key)
			c.subMu.Unlock()
		})
	}
}

// OnReconnect is called with the new endpoint ID after rooms are rejoined.
func (c *Client) OnReconnect(fn func(domain.EndpointID)) func() {
	c.subMu.Lock()
	c.nextSub++
	key := c.nextSub
	c.reconnected[key] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.reconnected, key)
			c.subMu.Unlock()
		})
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	c.link = nil
	c.mu.Unlock()

	c.cancel()
	if l != nil {
		l.close()
	}
	c.wg.Wait()
	return nil
}

func (c *Client) write(ctx context.Context, event string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	msg, err := json.Marshal(domain.Frame{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.RLock()
	l, closed := c.link, c.closed
	c.mu.RUnlock()
	switch {
	case closed:
		return ErrClosed
	case l == nil:
		return domain.ErrNotConnected
	}
	return l.enqueue(msg)
}

func (c *Client) dialWithRetry(ctx context.Context) (*link, domain.EndpointID, error) {
	cfg := retry.Config{
		MaxAttempts:  c.opts.DialAttempts,
		InitialDelay: c.opts.ReconnectDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}

	type dialed struct {
		link *link
		id   domain.EndpointID
	}
	res, err := retry.DoWithResult(ctx, cfg, func() (dialed, error) {
		l, id, err := c.dial(ctx)
		if err != nil {
			c.logger.Debugw("relay dial failed", "error", err)
		}
		return dialed{l, id}, err
	})
	if err != nil {
		return nil, "", fmt.Errorf("dial relay: %w", err)
	}
	return res.link, res.id, nil
}

func (c *Client) dial(ctx context.Context) (*link, domain.EndpointID, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, "", err
	}
	conn.SetReadLimit(c.opts.MaxMessageSize)

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	var hello domain.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("read handshake: %w", err)
	}
	var notice domain.ConnectedNotice
	if hello.Event != domain.EventConnected || json.Unmarshal(hello.Data, &notice) != nil || validation.ValidateEndpointID(notice.ID.String()) != nil {
		_ = conn.Close()
		return nil, "", retry.Permanent(errNoHandshake)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})
	return newLink(conn, c.opts.SendBuffer), notice.ID, nil
}

// install makes l the active link and starts its pumps.
func (c *Client) install(l *link, id domain.EndpointID) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		l.close()
		return
	}
	c.link = l
	c.id = id
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		l.writePump(c.opts.PingInterval, c.opts.WriteTimeout)
	}()
	go func() {
		defer c.wg.Done()
		c.readPump(l)
	}()
}

func (c *Client) readPump(l *link) {
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			c.dropped(l, err)
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var f domain.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Warnw("discarding malformed relay frame", "error", err)
		return
	}

	switch f.Event {
	case string(domain.SignalOffer), string(domain.SignalAnswer), string(domain.SignalICECandidate):
		var env domain.Envelope
		if err := json.Unmarshal(f.Data, &env); err != nil {
			c.logger.Warnw("discarding malformed envelope", "event", f.Event, "error", err)
			return
		}
		for _, fn := range c.signalHandlers(domain.SignalKind(f.Event)) {
			fn(env)
		}

	case domain.EventUserConnected:
		var notice domain.UserConnectedNotice
		if err := json.Unmarshal(f.Data, &notice); err != nil {
			c.logger.Warnw("discarding malformed user-connected notice", "error", err)
			return
		}
		c.subMu.RLock()
		handlers := make([]func(domain.UserConnectedNotice), 0, len(c.userConnected))
		for _, fn := range c.userConnected {
			handlers = append(handlers, fn)
		}
		c.subMu.RUnlock()
		for _, fn := range handlers {
			fn(notice)
		}

	case domain.EventError:
		var notice domain.ErrorNotice
		_ = json.Unmarshal(f.Data, &notice)
		c.logger.Warnw("relay rejected frame", "code", notice.Code, "message", notice.Message)

	default:
		c.logger.Debugw("ignoring relay event", "event", f.Event)
	}
}

func (c *Client) signalHandlers(kind domain.SignalKind) []func(domain.Envelope) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	handlers := make([]func(domain.Envelope), 0, len(c.signalSubs[kind]))
	for _, fn := range c.signalSubs[kind] {
		handlers = append(handlers, fn)
	}
	return handlers
}

// dropped tears down l and, unless the client is closing, starts a
// reconnect loop.
func (c *Client) dropped(l *link, cause error) {
	l.close()

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.logger.Warnw("relay connection lost", "error", cause)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnect()
	}()
}

func (c *Client) reconnect() {
	for {
		l, id, err := c.dialWithRetry(c.ctx)
		if err == nil {
			c.install(l, id)
			c.rejoin()
			c.logger.Infow("reconnected to relay", "endpoint_id", id)

			c.subMu.RLock()
			handlers := make([]func(domain.EndpointID), 0, len(c.reconnected))
			for _, fn := range c.reconnected {
				handlers = append(handlers, fn)
			}
			c.subMu.RUnlock()
			for _, fn := range handlers {
				fn(id)
			}
			return
		}

		if errors.Is(err, context.Canceled) || c.ctx.Err() != nil {
			return
		}
		c.logger.Warnw("relay reconnect round failed", "error", err)

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

func (c *Client) rejoin() {
	c.mu.RLock()
	rooms := make(map[domain.RoomID]string, len(c.rooms))
	for r, alias := range c.rooms {
		rooms[r] = alias
	}
	c.mu.RUnlock()

	for room, alias := range rooms {
		if err := c.write(c.ctx, domain.EventJoinRoom, domain.JoinRequest{RoomID: room, Alias: alias}); err != nil {
			c.logger.Warnw("failed to rejoin room", "room_id", room, "error", err)
		}
	}
}
