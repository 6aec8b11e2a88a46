package domain

import (
	"errors"
	"strings"
)

var (
	ErrEndpointNotFound = errors.New("endpoint not found")
	ErrInvalidEnvelope  = errors.New("invalid envelope")
	ErrUnknownSignal    = errors.New("unknown signal type")
	ErrNotConnected     = errors.New("not connected")
	ErrPeerDestroyed    = errors.New("peer destroyed")
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNegotiationRace is returned when a description arrives while the
	// peer is in a signaling state that cannot accept it (glare).
	ErrNegotiationRace = errors.New("cannot renegotiate: negotiation already in progress")
)

// IsNegotiationRace reports whether err is a transient renegotiation
// conflict that should not fail the session.
func IsNegotiationRace(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNegotiationRace) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "renegotiate")
}
