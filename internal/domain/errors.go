package domain

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

type DeviceErrorKind string

const (
	DeviceNoDevice         DeviceErrorKind = "no-device"
	DeviceBusy             DeviceErrorKind = "device-busy"
	DeviceConstraints      DeviceErrorKind = "constraints-unsatisfiable"
	DevicePermissionDenied DeviceErrorKind = "permission-denied"
	DeviceEmptyConstraints DeviceErrorKind = "empty-constraints"
	DeviceOther            DeviceErrorKind = "other"
)

// DeviceError is returned when camera or microphone acquisition fails.
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device %q: %s", e.Device, e.Kind)
	}
	return fmt.Sprintf("device %q: %s: %v", e.Device, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

type SignalingErrorKind string

const (
	SignalingPeerUnavailable SignalingErrorKind = "peer-unavailable"
	SignalingTransportLost   SignalingErrorKind = "transport-lost"
	SignalingIDTaken         SignalingErrorKind = "id-taken"
	SignalingRateLimited     SignalingErrorKind = "rate-limited"
	SignalingBadPayload      SignalingErrorKind = "bad-payload"
)

type SignalingError struct {
	Kind    SignalingErrorKind
	PeerID  PeerID
	Message string
}

func (e *SignalingError) Error() string {
	if e.PeerID != "" {
		return fmt.Sprintf("signaling %s (peer %s): %s", e.Kind, e.PeerID, e.Message)
	}
	return fmt.Sprintf("signaling %s: %s", e.Kind, e.Message)
}

// SignalingErrorFromPayload prefers the structured peer id and only scrapes the
// message text when the server did not report one.
func SignalingErrorFromPayload(p ErrorPayload) *SignalingError {
	e := &SignalingError{Kind: p.Kind, PeerID: p.PeerID, Message: p.Message}
	if e.PeerID == "" && e.Kind == SignalingPeerUnavailable {
		if id, ok := ExtractPeerID(p.Message); ok {
			e.PeerID = id
		}
	}
	return e
}

var peerIDPattern = regexp.MustCompile(`\w+-\w+-\w+-\w+-\w+`)

// ExtractPeerID finds the first UUID-shaped token in an error text.
func ExtractPeerID(text string) (PeerID, bool) {
	for _, m := range peerIDPattern.FindAllString(text, -1) {
		if _, err := uuid.Parse(m); err == nil {
			return PeerID(m), true
		}
	}
	return "", false
}

type ChannelError struct {
	Kind   ChannelKind
	PeerID PeerID
	Err    error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s channel to %s: %v", e.Kind, e.PeerID, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("segmentation model load: %v", e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }
