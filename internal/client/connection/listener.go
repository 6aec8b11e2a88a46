package connection

import (
	"encoding/json"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
)

// Listener observes a Session. Calls are made without session locks held,
// from whichever goroutine produced the event.
type Listener interface {
	OnStateChange(state domain.ConnectionState)
	OnStream(stream ports.RemoteStream)
	OnData(data json.RawMessage)
}

// ListenerFuncs adapts plain funcs to Listener. Nil funcs are skipped.
type ListenerFuncs struct {
	StateChange func(domain.ConnectionState)
	Stream      func(ports.RemoteStream)
	Data        func(json.RawMessage)
}

func (l ListenerFuncs) OnStateChange(state domain.ConnectionState) {
	if l.StateChange != nil {
		l.StateChange(state)
	}
}

func (l ListenerFuncs) OnStream(stream ports.RemoteStream) {
	if l.Stream != nil {
		l.Stream(stream)
	}
}

func (l ListenerFuncs) OnData(data json.RawMessage) {
	if l.Data != nil {
		l.Data(data)
	}
}
