package core

import (
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

type SignalEventKind int

const (
	ServerConnected SignalEventKind = iota
	ServerDisconnected
	InboundData
	InboundMedia
	FatalError
)

func (k SignalEventKind) String() string {
	switch k {
	case ServerConnected:
		return "server-connected"
	case ServerDisconnected:
		return "server-disconnected"
	case InboundData:
		return "inbound-data"
	case InboundMedia:
		return "inbound-media"
	case FatalError:
		return "fatal-error"
	}
	return "unknown"
}

// SignalEvent: PeerID is our own id for ServerConnected and the remote id otherwise.
type SignalEvent struct {
	Kind   SignalEventKind
	PeerID domain.PeerID
	Media  MediaChannel
	Data   DataChannel
	Err    *domain.SignalingError
}

// Signaling is the client's view of the rendezvous service. CallPeer and
// ConnectData return immediately; progress arrives on the channel's events.
type Signaling interface {
	Events() <-chan SignalEvent
	CallPeer(remote domain.PeerID, local *media.Stream) (MediaChannel, error)
	ConnectData(remote domain.PeerID) (DataChannel, error)
	Close() error
}
