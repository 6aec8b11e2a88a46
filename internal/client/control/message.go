// Package control defines the JSON messages a viewer sends to a host over
// the data channel.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
)

const MaxClipboardBytes = 64 * 1024

var (
	ErrMalformed   = errors.New("malformed control message")
	ErrUnknownType = errors.New("unknown control message type")
	ErrOutOfRange  = errors.New("control value out of range")
)

type MessageType string

const (
	TypeMouseMove MessageType = "mousemove"
	TypeClick     MessageType = "click"
	TypeClipboard MessageType = "clipboard"
)

// Button is a pointer button index as reported by the browser's
// MouseEvent.button.
type Button int

const (
	ButtonLeft   Button = 0
	ButtonMiddle Button = 1
	ButtonRight  Button = 2
)

func (b Button) Valid() bool { return b >= 0 }

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonMiddle:
		return "middle"
	case ButtonRight:
		return "right"
	}
	return fmt.Sprintf("button%d", int(b))
}

type Message interface {
	Type() MessageType
	Validate() error
}

// MouseMove carries a pointer position normalized to the shared screen,
// both axes in [0,1].
type MouseMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (MouseMove) Type() MessageType { return TypeMouseMove }

func (m MouseMove) Validate() error {
	if m.X < 0 || m.X > 1 || m.Y < 0 || m.Y > 1 {
		return fmt.Errorf("%w: mousemove (%g, %g)", ErrOutOfRange, m.X, m.Y)
	}
	return nil
}

func (m MouseMove) MarshalJSON() ([]byte, error) {
	type fields MouseMove
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		fields
	}{TypeMouseMove, fields(m)})
}

type Click struct {
	Button Button `json:"button"`
}

func (Click) Type() MessageType { return TypeClick }

func (c Click) Validate() error {
	if !c.Button.Valid() {
		return fmt.Errorf("%w: button %d", ErrOutOfRange, int(c.Button))
	}
	return nil
}

func (c Click) MarshalJSON() ([]byte, error) {
	type fields Click
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		fields
	}{TypeClick, fields(c)})
}

type Clipboard struct {
	Text string `json:"text"`
}

func (Clipboard) Type() MessageType { return TypeClipboard }

func (c Clipboard) Validate() error {
	if len(c.Text) > MaxClipboardBytes {
		return fmt.Errorf("%w: clipboard text is %d bytes", ErrOutOfRange, len(c.Text))
	}
	return nil
}

func (c Clipboard) MarshalJSON() ([]byte, error) {
	type fields Clipboard
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		fields
	}{TypeClipboard, fields(c)})
}

func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode parses and validates one message.
func Decode(raw []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	switch head.Type {
	case TypeMouseMove:
		var w struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if w.X == nil || w.Y == nil {
			return nil, fmt.Errorf("%w: mousemove needs x and y", ErrMalformed)
		}
		msg = MouseMove{X: *w.X, Y: *w.Y}

	case TypeClick:
		var c Click
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg = c

	case TypeClipboard:
		var c Clipboard
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg = c

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
