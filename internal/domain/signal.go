package domain

import "encoding/json"

type SignalType string

const (
	SignalOpen      SignalType = "open"
	SignalIDTaken   SignalType = "id-taken"
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalLeave     SignalType = "leave"
	SignalError     SignalType = "error"
	SignalPing      SignalType = "ping"
	SignalPong      SignalType = "pong"
)

// ChannelKind distinguishes the two connections kept per remote peer.
type ChannelKind string

const (
	ChannelMedia ChannelKind = "media"
	ChannelData  ChannelKind = "data"
)

// Envelope is a rendezvous frame. Src is stamped by the server, Dst by the sender.
type Envelope struct {
	Type    SignalType      `json:"type"`
	Src     PeerID          `json:"src,omitempty"`
	Dst     PeerID          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionDescription mirrors the browser RTCSessionDescriptionInit.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalPayload carries negotiation for one logical connection.
type SignalPayload struct {
	ConnectionID string              `json:"connection_id"`
	Kind         ChannelKind         `json:"kind"`
	Label        string              `json:"label,omitempty"`
	SDP          *SessionDescription `json:"sdp,omitempty"`
	Candidate    *ICECandidate       `json:"candidate,omitempty"`
}

// OpenPayload confirms registration and carries the id the server accepted.
type OpenPayload struct {
	PeerID PeerID `json:"peer_id"`
}

type ErrorPayload struct {
	Kind    SignalingErrorKind `json:"kind"`
	PeerID  PeerID             `json:"peer_id,omitempty"`
	Message string             `json:"message"`
}

func NewEnvelope(t SignalType, dst PeerID, payload any) (Envelope, error) {
	env := Envelope{Type: t, Dst: dst}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Payload = b
	return env, nil
}
