package ports

import (
	"context"

	"teamdesk/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SignalingClient is the client-side handle on the relay. One instance is
// shared by every session of a process.
type SignalingClient interface {
	ID() domain.EndpointID
	JoinRoom(ctx context.Context, room domain.RoomID, alias string) error
	LeaveRoom(ctx context.Context, room domain.RoomID) error
	Send(kind domain.SignalKind, env domain.Envelope) error
	// Subscribe registers fn for envelopes of the given kind and returns a
	// func that removes it.
	Subscribe(kind domain.SignalKind, fn func(domain.Envelope)) (unsubscribe func())
}

type MediaStream struct {
	ID     string
	Tracks []webrtc.TrackLocal
}

type RemoteStream struct {
	ID       string
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

type PeerOptions struct {
	Initiator bool
	Stream    *MediaStream
}

// PeerEvents are invoked from transport goroutines. Nil handlers are skipped.
type PeerEvents struct {
	OnSignal  func(domain.SignalPayload)
	OnConnect func()
	OnStream  func(RemoteStream)
	OnData    func([]byte)
	OnError   func(error)
	OnClose   func()
}

type Peer interface {
	Signal(payload domain.SignalPayload) error
	Send(data []byte) error
	Destroy()
	Destroyed() bool
}

type PeerFactory interface {
	NewPeer(opts PeerOptions, events PeerEvents) (Peer, error)
}
