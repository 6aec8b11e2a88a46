package connection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const room = domain.RoomID("123456789")

func offer() domain.Envelope {
	return domain.Envelope{
		Target: room,
		Caller: "host",
		Signal: domain.SignalPayload{Type: domain.SignalTypeOffer, SDP: "v=0 offer"},
	}
}

func answer() domain.Envelope {
	return domain.Envelope{
		Target: room,
		Caller: "viewer",
		Signal: domain.SignalPayload{Type: domain.SignalTypeAnswer, SDP: "v=0 answer"},
	}
}

func candidate() domain.Envelope {
	return domain.Envelope{
		Target: room,
		Caller: "host",
		Signal: domain.SignalPayload{
			Type:      domain.SignalTypeCandidate,
			Candidate: &domain.ICECandidate{Candidate: "candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host"},
		},
	}
}

type fixture struct {
	relay    *fakeRelay
	factory  *fakeFactory
	session  *Session
	listener *recordingListener
}

func newFixture(t *testing.T, role domain.Role, timeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{relay: newFakeRelay(), factory: &fakeFactory{}, listener: &recordingListener{}}
	f.session = NewSession(f.relay, f.factory, Options{
		Room:               room,
		Role:               role,
		Alias:              "desk",
		NegotiationTimeout: timeout,
	}, zap.NewNop().Sugar())
	f.session.AddListener(f.listener)
	require.NoError(t, f.session.Mount(context.Background()))
	t.Cleanup(func() { _ = f.session.Unmount(context.Background()) })
	return f
}

func TestSession_InitiatorMountStartsNegotiation(t *testing.T) {
	f := newFixture(t, domain.RoleInitiator, 0)

	assert.Equal(t, "desk", f.relay.joined[room])
	assert.Equal(t, 3, f.relay.subscriptions())
	require.Equal(t, 1, f.factory.count())
	assert.True(t, f.factory.peer(0).opts.Initiator)
	assert.Equal(t, domain.StateNegotiating, f.session.State())
	assert.Equal(t, []domain.ConnectionState{domain.StateNegotiating}, f.listener.seenStates())

	f.factory.peer(0).events.OnSignal(domain.SignalPayload{Type: domain.SignalTypeOffer, SDP: "v=0"})
	f.factory.peer(0).events.OnSignal(domain.SignalPayload{Type: domain.SignalTypeCandidate, Candidate: &domain.ICECandidate{Candidate: "c"}})

	sent := f.relay.sentEnvelopes()
	require.Len(t, sent, 2)
	assert.Equal(t, domain.SignalOffer, sent[0].kind)
	assert.Equal(t, room, sent[0].env.Target)
	assert.Equal(t, domain.EndpointID("self"), sent[0].env.Caller)
	assert.Equal(t, domain.SignalICECandidate, sent[1].kind)
}

func TestSession_ReceiverWaitsForOffer(t *testing.T) {
	f := newFixture(t, domain.RoleReceiver, 0)

	assert.Equal(t, domain.StateIdle, f.session.State())
	assert.Zero(t, f.factory.count())

	f.relay.deliver(domain.SignalICECandidate, candidate())
	f.relay.deliver(domain.SignalAnswer, answer())
	assert.Zero(t, f.factory.count())

	f.relay.deliver(domain.SignalOffer, offer())
	require.Equal(t, 1, f.factory.count())
	p := f.factory.peer(0)
	assert.False(t, p.opts.Initiator)
	assert.Equal(t, []domain.SignalPayload{offer().Signal}, p.signalled())
	assert.Equal(t, domain.StateNegotiating, f.session.State())

	f.relay.deliver(domain.SignalICECandidate, candidate())
	assert.Len(t, p.signalled(), 2)
}

func TestSession_ReceiverReplacesPeerOnEveryOffer(t *testing.T) {
	f := newFixture(t, domain.RoleReceiver, 0)

	f.relay.deliver(domain.SignalOffer, offer())
	f.factory.peer(0).events.OnConnect()
	require.True(t, f.session.IsConnected())

	f.relay.deliver(domain.SignalOffer, offer())
	require.Equal(t, 2, f.factory.count())
	assert.True(t, f.factory.peer(0).Destroyed())
	assert.False(t, f.factory.peer(1).Destroyed())
	assert.False(t, f.session.IsConnected())
	assert.Equal(t, domain.StateNegotiating, f.session.State())

	// Events from the replaced peer are discarded.
	f.factory.peer(0).events.OnConnect()
	f.factory.peer(0).events.OnData([]byte(`{"type":"click","button":0}`))
	assert.Equal(t, domain.StateNegotiating, f.session.State())
	assert.Empty(t, f.listener.seenData())
}

func TestSession_IgnoresOtherRooms(t *testing.T) {
	f := newFixture(t, domain.RoleReceiver, 0)

	env := offer()
	env.Target = "987654321"
	f.relay.deliver(domain.SignalOffer, env)
	assert.Zero(t, f.factory.count())
}

func TestSession_InitiatorPassesOfferToExistingPeer(t *testing.T) {
	f := newFixture(t, domain.RoleInitiator, 0)
	p := f.factory.peer(0)
	p.signalErr = fmt.Errorf("set remote offer: %w", domain.ErrNegotiationRace)

	f.relay.deliver(domain.SignalOffer, offer())
	f.relay.deliver(domain.SignalAnswer, answer())

	assert.Equal(t, 1, f.factory.count())
	assert.Len(t, p.signalled(), 2)
	assert.Equal(t, domain.StateNegotiating, f.session.State())
}

func TestSession_ConnectEnablesSendData(t *testing.T) {
	f := newFixture(t, domain.RoleInitiator, 0)
	p := f.factory.peer(0)

	assert.ErrorIs(t, f.session.SendData(map[string]string{"type": "click"}), domain.ErrNotConnected)
	assert.Empty(t, p.sentData())

	p.events.OnConnect()
	assert.Equal(t, domain.StateConnected, f.session.State())
	assert.True(t, f.session.IsConnected())

	require.NoError(t, f.session.SendData(map[string]interface{}{"type": "mousemove", "x": 0.5, "y": 0.25}))
	require.Len(t, p.sentData(), 1)
	assert.JSONEq(t, `{"type":"mousemove","x":0.5,"y":0.25}`, string(p.sentData()[0]))

	assert.Equal(t, []domain.ConnectionState{domain.StateNegotiating, domain.StateConnected}, f.listener.seenStates())
}

func TestSession_DataAndStreamReachListeners(t *testing.T) {
	f := newFixture(t, domain.RoleReceiver, 0)
	f.relay.deliver(domain.SignalOffer, offer())
	p := f.factory.peer(0)

	p.events.OnData([]byte(`{"type":"mousemove","x":0.1,"y":0.9}`))
	p.events.OnData([]byte(`{"type":`))
	p.events.OnStream(ports.RemoteStream{ID: "screen"})

	data := f.listener.seenData()
	require.Len(t, data, 1)
	assert.JSONEq(t, `{"type":"mousemove","x":0.1,"y":0.9}`, string(data[0]))
	assert.Len(t, f.listener.streams, 1)
}

func TestSession_ErrorHandling(t *testing.T) {
	f := newFixture(t, domain.RoleInitiator, 0)
	p := f.factory.peer(0)
	p.events.OnConnect()

	p.events.OnError(errors.New("InvalidStateError: cannot renegotiate while negotiating"))
	assert.Equal(t, domain.StateConnected, f.session.State())

	p.events.OnError(domain.ErrConnectionFailed)
	assert.Equal(t, domain.StateFailed, f.session.State())
	assert.False(t, f.session.IsConnected())

	// The failed peer stays in place and still takes candidates.
	f.relay.deliver(domain.SignalICECandidate, candidate())
	assert.Len(t, p.signalled(), 1)
	assert.ErrorIs(t, f.session.SendData("x"), domain.ErrNotConnected)
}

func TestSession_CloseReturnsToIdle(t *testing.T) {
	f := newFixture(t, domain.RoleReceiver, 0)
	f.relay.deliver(domain.SignalOffer, offer())
	p := f.factory.peer(0)
	p.events.OnConnect()

	p.events.OnClose()
	assert.Equal(t, domain.StateIdle, f.session.State())
	assert.False(t, f.session.IsConnected())
	assert.Equal(t, []domain.ConnectionState{
		domain.StateNegotiating, domain.StateConnected, domain.StateClosed, domain.StateIdle,
	}, f.listener.seenStates())

	f.relay.deliver(domain.SignalICECandidate, candidate())
	assert.Len(t, p.signalled(), 1)
	assert.Equal(t, "desk", f.relay.joined[room])
}

func TestSession_Unmount(t *testing.T) {
	f := newFixture(t, domain.RoleInitiator, 0)
	p := f.factory.peer(0)

	require.NoError(t, f.session.Unmount(context.Background()))
	assert.True(t, p.Destroyed())
	assert.Zero(t, f.relay.subscriptions())
	assert.Equal(t, []domain.RoomID{room}, f.relay.left)
	assert.Equal(t, domain.StateIdle, f.session.State())

	p.events.OnSignal(domain.SignalPayload{Type: domain.SignalTypeOffer, SDP: "late"})
	p.events.OnConnect()
	assert.Empty(t, f.relay.sentEnvelopes())
	assert.Equal(t, domain.StateIdle, f.session.State())

	require.NoError(t, f.session.Unmount(context.Background()))
	assert.Len(t, f.relay.left, 1)
}

func TestSession_MountFailsWhenJoinFails(t *testing.T) {
	r := newFakeRelay()
	r.joinErr = domain.ErrNotConnected
	s := NewSession(r, &fakeFactory{}, Options{Room: room, Role: domain.RoleInitiator}, zap.NewNop().Sugar())

	err := s.Mount(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Zero(t, r.subscriptions())
}

func TestSession_PeerCreationFailure(t *testing.T) {
	r := newFakeRelay()
	s := NewSession(r, &fakeFactory{err: errors.New("no codecs")}, Options{Room: room, Role: domain.RoleInitiator}, zap.NewNop().Sugar())

	assert.Error(t, s.Mount(context.Background()))
	assert.Equal(t, domain.StateFailed, s.State())
}

func TestSession_InitiatorRetriesAfterNegotiationTimeout(t *testing.T) {
	f := newFixture(t, domain.RoleInitiator, 20*time.Millisecond)

	assert.Eventually(t, func() bool { return f.factory.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.factory.peer(0).Destroyed())
	assert.Contains(t, f.listener.seenStates(), domain.StateFailed)
}

func TestSession_ReceiverFailsAfterNegotiationTimeout(t *testing.T) {
	f := newFixture(t, domain.RoleReceiver, 20*time.Millisecond)
	f.relay.deliver(domain.SignalOffer, offer())

	assert.Eventually(t, func() bool { return f.session.State() == domain.StateFailed }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.factory.count())
	assert.False(t, f.factory.peer(0).Destroyed())

	f.relay.deliver(domain.SignalOffer, offer())
	assert.Equal(t, 2, f.factory.count())
}

func TestSession_ConnectStopsNegotiationTimer(t *testing.T) {
	f := newFixture(t, domain.RoleInitiator, 30*time.Millisecond)
	f.factory.peer(0).events.OnConnect()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.factory.count())
	assert.Equal(t, domain.StateConnected, f.session.State())
}

func TestSession_RemoveListener(t *testing.T) {
	f := newFixture(t, domain.RoleInitiator, 0)
	var states []domain.ConnectionState
	remove := f.session.AddListener(ListenerFuncs{StateChange: func(s domain.ConnectionState) {
		states = append(states, s)
	}})

	f.factory.peer(0).events.OnConnect()
	remove()
	f.factory.peer(0).events.OnError(errors.New("ice failed"))

	assert.Equal(t, []domain.ConnectionState{domain.StateConnected}, states)
}

func TestSession_SendDataWithoutPeerIsNoop(t *testing.T) {
	f := newFixture(t, domain.RoleReceiver, 0)

	err := f.session.SendData(map[string]interface{}{"type": "click", "button": 0})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, domain.StateIdle, f.session.State())
}
