package domain

import "fmt"

// SignalKind is the relay event name an envelope travels under.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// SignalType is the discriminator inside the opaque signal payload.
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
)

type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type SignalPayload struct {
	Type      SignalType    `json:"type"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

// Kind maps the payload to the relay event it must be sent under.
func (p SignalPayload) Kind() (SignalKind, error) {
	switch p.Type {
	case SignalTypeOffer:
		return SignalOffer, nil
	case SignalTypeAnswer:
		return SignalAnswer, nil
	case SignalTypeCandidate:
		return SignalICECandidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSignal, p.Type)
}

// Envelope is the unit the relay routes. Only Target is inspected in transit.
type Envelope struct {
	Target RoomID        `json:"target"`
	Caller EndpointID    `json:"caller"`
	Signal SignalPayload `json:"signal"`
}
