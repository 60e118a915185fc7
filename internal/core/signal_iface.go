package core

import "github.com/dkeye/meshroom/internal/domain"

// Frame is a raw text payload on a signaling socket.
type Frame []byte

// SignalConnection is the server side of one peer's rendezvous socket.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
	Peer() domain.PeerID
}
