package connection

import (
	"context"
	"encoding/json"
	"sync"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
)

type sentEnvelope struct {
	kind domain.SignalKind
	env  domain.Envelope
}

type fakeRelay struct {
	mu        sync.Mutex
	id        domain.EndpointID
	next      int
	subs      map[domain.SignalKind]map[int]func(domain.Envelope)
	sent      []sentEnvelope
	joined    map[domain.RoomID]string
	left      []domain.RoomID
	joinErr   error
	reconnect func(domain.EndpointID)
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		id:     "self",
		subs:   make(map[domain.SignalKind]map[int]func(domain.Envelope)),
		joined: make(map[domain.RoomID]string),
	}
}

func (r *fakeRelay) ID() domain.EndpointID { return r.id }

func (r *fakeRelay) JoinRoom(_ context.Context, room domain.RoomID, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.joinErr != nil {
		return r.joinErr
	}
	r.joined[room] = alias
	return nil
}

func (r *fakeRelay) LeaveRoom(_ context.Context, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.joined, room)
	r.left = append(r.left, room)
	return nil
}

func (r *fakeRelay) Send(kind domain.SignalKind, env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEnvelope{kind, env})
	return nil
}

func (r *fakeRelay) Subscribe(kind domain.SignalKind, fn func(domain.Envelope)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	key := r.next
	if r.subs[kind] == nil {
		r.subs[kind] = make(map[int]func(domain.Envelope))
	}
	r.subs[kind][key] = fn
	return func() {
		r.mu.Lock()
		delete(r.subs[kind], key)
		r.mu.Unlock()
	}
}

func (r *fakeRelay) OnReconnect(fn func(domain.EndpointID)) func() {
	r.mu.Lock()
	r.reconnect = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.reconnect = nil
		r.mu.Unlock()
	}
}

func (r *fakeRelay) deliver(kind domain.SignalKind, env domain.Envelope) {
	r.mu.Lock()
	handlers := make([]func(domain.Envelope), 0, len(r.subs[kind]))
	for _, fn := range r.subs[kind] {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()
	for _, fn := range handlers {
		fn(env)
	}
}

func (r *fakeRelay) subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.subs {
		n += len(m)
	}
	return n
}

func (r *fakeRelay) sentEnvelopes() []sentEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEnvelope(nil), r.sent...)
}

type fakePeer struct {
	opts   ports.PeerOptions
	events ports.PeerEvents

	mu        sync.Mutex
	signals   []domain.SignalPayload
	sent      [][]byte
	destroyed bool
	signalErr error
}

func (p *fakePeer) Signal(payload domain.SignalPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, payload)
	return p.signalErr
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, data)
	return nil
}

func (p *fakePeer) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = true
}

func (p *fakePeer) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

func (p *fakePeer) signalled() []domain.SignalPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SignalPayload(nil), p.signals...)
}

func (p *fakePeer) sentData() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
}

func (f *fakeFactory) NewPeer(opts ports.PeerOptions, events ports.PeerEvents) (ports.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePeer{opts: opts, events: events}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) peer(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[i]
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

type recordingListener struct {
	mu      sync.Mutex
	states  []domain.ConnectionState
	streams []ports.RemoteStream
	data    []json.RawMessage
}

func (l *recordingListener) OnStateChange(s domain.ConnectionState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *recordingListener) OnStream(rs ports.RemoteStream) {
	l.mu.Lock()
	l.streams = append(l.streams, rs)
	l.mu.Unlock()
}

func (l *recordingListener) OnData(d json.RawMessage) {
	l.mu.Lock()
	l.data = append(l.data, d)
	l.mu.Unlock()
}

func (l *recordingListener) seenStates() []domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ConnectionState(nil), l.states...)
}

func (l *recordingListener) seenData() []json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]json.RawMessage(nil), l.data...)
}
