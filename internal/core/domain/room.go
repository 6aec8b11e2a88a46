package domain

import "time"

type RoomID string

type EndpointID string

func (id RoomID) String() string { return string(id) }

func (id EndpointID) String() string { return string(id) }

// Room is the singleton room every endpoint implicitly belongs to, so a
// direct reply can be addressed the same way as a room broadcast.
func (id EndpointID) Room() RoomID { return RoomID(id) }

type Membership struct {
	Room     RoomID
	Endpoint EndpointID
	Alias    string
	JoinedAt time.Time
}

// DisplayName is what other members see in user-connected notices.
func (m Membership) DisplayName() string {
	if m.Alias != "" {
		return m.Alias
	}
	return string(m.Endpoint)
}
