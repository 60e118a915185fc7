package mesh

import (
	"time"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

type SessionState int

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosing
	StateRemoved
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateRemoved:
		return "removed"
	}
	return "unknown"
}

// session is one remote participant. Only the manager loop touches it.
type session struct {
	peer        domain.PeerID
	self        bool
	state       SessionState
	displayName string

	media        core.MediaChannel
	data         core.DataChannel
	dataOutbound bool
	remote       *media.RemoteStream

	reached bool
	grace   *time.Timer
	// gen invalidates grace timers that fired after a revive.
	gen uint64
}

func (s *session) available() bool {
	return s.state == StateConnecting || s.state == StateOpen
}

// SessionView is a copy of a session for the UI layer.
type SessionView struct {
	PeerID      domain.PeerID
	DisplayName string
	State       SessionState
	Available   bool
	Self        bool
	// Remote is nil until the remote track arrives; Local is set only on the self-session.
	Remote *media.RemoteStream
	Local  *media.Stream
}

func (m *Manager) view(s *session) SessionView {
	v := SessionView{
		PeerID:      s.peer,
		DisplayName: s.displayName,
		State:       s.state,
		Available:   s.available(),
		Self:        s.self,
		Remote:      s.remote,
	}
	if s.self {
		v.Local = m.local
	}
	return v
}
