package control

import (
	"sync"

	"teamdesk/pkg/utils"

	"go.uber.org/zap"
)

// maxLoggedPayload bounds how much of a rejected payload is logged.
const maxLoggedPayload = 128

type Handler interface {
	OnMouseMove(MouseMove)
	OnClick(Click)
	OnClipboard(Clipboard)
}

// HandlerFuncs adapts plain funcs to Handler. Nil funcs are skipped.
type HandlerFuncs struct {
	MouseMove func(MouseMove)
	Click     func(Click)
	Clipboard func(Clipboard)
}

func (h HandlerFuncs) OnMouseMove(m MouseMove) {
	if h.MouseMove != nil {
		h.MouseMove(m)
	}
}

func (h HandlerFuncs) OnClick(c Click) {
	if h.Click != nil {
		h.Click(c)
	}
}

func (h HandlerFuncs) OnClipboard(c Clipboard) {
	if h.Clipboard != nil {
		h.Clipboard(c)
	}
}

// Dispatcher decodes raw data channel payloads and routes them to a
// Handler. Invalid input is logged and dropped.
type Dispatcher struct {
	handler Handler
	logger  *zap.SugaredLogger
}

func NewDispatcher(handler Handler, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{handler: handler, logger: logger}
}

// Dispatch reports whether raw was a valid message.
func (d *Dispatcher) Dispatch(raw []byte) bool {
	msg, err := Decode(raw)
	if err != nil {
		d.logger.Warnw("ignoring control message", "error", err, "payload", utils.TruncateString(string(raw), maxLoggedPayload))
		return false
	}

	switch m := msg.(type) {
	case MouseMove:
		d.handler.OnMouseMove(m)
	case Click:
		d.handler.OnClick(m)
	case Clipboard:
		d.handler.OnClipboard(m)
	}
	return true
}

// Cursor keeps the most recent pointer position.
type Cursor struct {
	mu    sync.RWMutex
	pos   MouseMove
	moved bool
}

func (c *Cursor) OnMouseMove(m MouseMove) {
	c.mu.Lock()
	c.pos = m
	c.moved = true
	c.mu.Unlock()
}

// Position returns the last applied position and false before any move.
func (c *Cursor) Position() (MouseMove, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pos, c.moved
}

// Pixels scales the position onto a screen of the given size.
func (c *Cursor) Pixels(width, height int) (int, int, bool) {
	pos, ok := c.Position()
	if !ok {
		return 0, 0, false
	}
	return int(pos.X * float64(width-1)), int(pos.Y * float64(height-1)), true
}
