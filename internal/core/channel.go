package core

import (
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

type ChannelEventKind int

const (
	ChannelOpen ChannelEventKind = iota
	ChannelStream
	ChannelData
	ChannelClose
	ChannelError
)

func (k ChannelEventKind) String() string {
	switch k {
	case ChannelOpen:
		return "open"
	case ChannelStream:
		return "stream"
	case ChannelData:
		return "data"
	case ChannelClose:
		return "close"
	case ChannelError:
		return "error"
	}
	return "unknown"
}

// ChannelEvent is delivered on a channel's Events() in the order the transport saw it.
// ChannelClose is always the last event before Events() is closed.
type ChannelEvent struct {
	Kind   ChannelEventKind
	Stream *media.RemoteStream
	Data   domain.DataConnData
	Err    error
}

// MediaChannel carries audio/video to one remote peer.
type MediaChannel interface {
	ID() string
	Peer() domain.PeerID
	Events() <-chan ChannelEvent
	// Answer accepts an inbound call, sending the tracks of local.
	Answer(local *media.Stream) error
	// ReplaceTrack swaps the outgoing track of t's kind without renegotiation.
	ReplaceTrack(t *media.LocalTrack) error
	Close() error
}

// DataChannel carries DataConnData messages to one remote peer.
type DataChannel interface {
	ID() string
	Peer() domain.PeerID
	Events() <-chan ChannelEvent
	Send(domain.DataConnData) error
	Close() error
}
