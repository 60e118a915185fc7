package app

import (
	"errors"

	"github.com/dkeye/meshroom/internal/domain"
)

// ErrBackpressure is returned by SignalConnection.TrySend when the send buffer is full.
var ErrBackpressure = errors.New("backpressure")

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickPeer
)

// Policy decides what happens to a peer whose send buffer is full.
type Policy interface {
	OnBackPressure(peer domain.PeerID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.PeerID) BackpressureAction {
	return KickPeer
}

// TolerantPolicy drops the frame and keeps the peer; negotiation retries cover the loss.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(domain.PeerID) BackpressureAction {
	return DropFrame
}
