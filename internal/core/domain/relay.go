package domain

import "encoding/json"

// Relay wire events besides the signal kinds.
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventConnected     = "connected"
	EventUserConnected = "user-connected"
	EventError         = "error"
)

// Frame is a single websocket text message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRequest struct {
	RoomID RoomID `json:"room_id"`
	Alias  string `json:"alias,omitempty"`
}

type LeaveRequest struct {
	RoomID RoomID `json:"room_id"`
}

type ConnectedNotice struct {
	ID EndpointID `json:"id"`
}

type UserConnectedNotice struct {
	ID     string `json:"id"`
	RoomID RoomID `json:"room_id"`
}

type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Broadcast is a room fan-out that other relay instances replay to their
// local members.
type Broadcast struct {
	Event   string
	Room    RoomID
	Exclude EndpointID
	Data    []byte
}
