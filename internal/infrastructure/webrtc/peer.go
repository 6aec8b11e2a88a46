package webrtc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/rtcerr"
	"go.uber.org/zap"
)

// Peer wraps one PeerConnection and its control data channel. Events are
// dropped once the peer is destroyed.
type Peer struct {
	pc        *webrtc.PeerConnection
	initiator bool
	label     string
	events    ports.PeerEvents
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	dc      *webrtc.DataChannel
	pending []webrtc.ICECandidateInit

	destroyed atomic.Bool
	connected atomic.Bool
	closeOnce sync.Once
}

var _ ports.Peer = (*Peer)(nil)

func (p *Peer) setup(stream *ports.MediaStream) error {
	tracks := 0
	if stream != nil {
		for _, track := range stream.Tracks {
			sender, err := p.pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add track %s: %w", track.ID(), err)
			}
			tracks++
			go readRTCP(sender, p.logger)
		}
	}

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.emitSignal(domain.SignalPayload{
			Type: domain.SignalTypeCandidate,
			Candidate: &domain.ICECandidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			},
		})
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Infow("remote track started",
			"track_id", track.ID(),
			"stream_id", track.StreamID(),
			"codec", track.Codec().MimeType,
		)
		if p.destroyed.Load() || p.events.OnStream == nil {
			return
		}
		p.events.OnStream(ports.RemoteStream{ID: track.StreamID(), Track: track, Receiver: receiver})
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debugw("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			p.emitError(domain.ErrConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			p.emitClose()
		}
	})

	if !p.initiator {
		p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != p.label {
				p.logger.Warnw("ignoring unexpected data channel", "label", dc.Label())
				return
			}
			p.attach(dc)
		})
		return nil
	}

	dc, err := p.pc.CreateDataChannel(p.label, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	p.attach(dc)

	if tracks == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}

	go p.offer()
	return nil
}

func (p *Peer) attach(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.connected.Store(true)
		p.logger.Infow("data channel open", "label", dc.Label())
		if !p.destroyed.Load() && p.events.OnConnect != nil {
			p.events.OnConnect()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !p.destroyed.Load() && p.events.OnData != nil {
			p.events.OnData(msg.Data)
		}
	})
	dc.OnClose(func() {
		p.connected.Store(false)
		p.emitClose()
	})
}

func (p *Peer) offer() {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.emitError(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.emitError(fmt.Errorf("set local offer: %w", err))
		return
	}
	p.emitSignal(domain.SignalPayload{Type: domain.SignalTypeOffer, SDP: offer.SDP})
}

// Signal applies a remote offer, answer or candidate. Descriptions that
// arrive in the wrong signaling state report ErrNegotiationRace.
func (p *Peer) Signal(payload domain.SignalPayload) error {
	if p.destroyed.Load() {
		return domain.ErrPeerDestroyed
	}

	switch payload.Type {
	case domain.SignalTypeOffer:
		answer, err := p.applyOffer(payload.SDP)
		if err != nil {
			return err
		}
		p.emitSignal(domain.SignalPayload{Type: domain.SignalTypeAnswer, SDP: answer})
		return nil

	case domain.SignalTypeAnswer:
		return p.applyAnswer(payload.SDP)

	case domain.SignalTypeCandidate:
		if payload.Candidate == nil {
			return fmt.Errorf("%w: candidate signal without candidate", domain.ErrInvalidEnvelope)
		}
		return p.addCandidate(webrtc.ICECandidateInit{
			Candidate:        payload.Candidate.Candidate,
			SDPMid:           payload.Candidate.SDPMid,
			SDPMLineIndex:    payload.Candidate.SDPMLineIndex,
			UsernameFragment: payload.Candidate.UsernameFragment,
		})
	}
	return fmt.Errorf("%w: %q", domain.ErrUnknownSignal, payload.Type)
}

func (p *Peer) applyOffer(sdp string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc.SignalingState() != webrtc.SignalingStateStable {
		return "", fmt.Errorf("%w: offer in state %s", domain.ErrNegotiationRace, p.pc.SignalingState())
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", raceOr(fmt.Errorf("set remote offer: %w", err), err)
	}
	p.flushPendingLocked()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	return answer.SDP, nil
}

func (p *Peer) applyAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("%w: answer in state %s", domain.ErrNegotiationRace, p.pc.SignalingState())
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return raceOr(fmt.Errorf("set remote answer: %w", err), err)
	}
	p.flushPendingLocked()
	return nil
}

// addCandidate queues candidates until a remote description is set.
func (p *Peer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, c)
		return nil
	}
	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) flushPendingLocked() {
	for _, c := range p.pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Debugw("dropping queued candidate", "error", err)
		}
	}
	p.pending = nil
}

func (p *Peer) Send(data []byte) error {
	if p.destroyed.Load() {
		return domain.ErrPeerDestroyed
	}
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()

	if dc == nil || !p.connected.Load() {
		return domain.ErrNotConnected
	}
	return dc.SendText(string(data))
}

func (p *Peer) Destroy() {
	if p.destroyed.Swap(true) {
		return
	}
	if err := p.pc.Close(); err != nil {
		p.logger.Debugw("error closing peer connection", "error", err)
	}
}

func (p *Peer) Destroyed() bool {
	return p.destroyed.Load()
}

func (p *Peer) emitSignal(payload domain.SignalPayload) {
	if !p.destroyed.Load() && p.events.OnSignal != nil {
		p.events.OnSignal(payload)
	}
}

func (p *Peer) emitError(err error) {
	if !p.destroyed.Load() && p.events.OnError != nil {
		p.events.OnError(err)
	}
}

func (p *Peer) emitClose() {
	p.closeOnce.Do(func() {
		if !p.destroyed.Load() && p.events.OnClose != nil {
			p.events.OnClose()
		}
	})
}

// raceOr reports wrapped as a negotiation race when pion rejected the
// description because of the signaling state.
func raceOr(wrapped, cause error) error {
	var invalidState *rtcerr.InvalidStateError
	var invalidModification *rtcerr.InvalidModificationError
	if errors.As(cause, &invalidState) || errors.As(cause, &invalidModification) {
		return fmt.Errorf("%w: %v", domain.ErrNegotiationRace, wrapped)
	}
	return wrapped
}
