// Package mesh keeps one media and one data connection to every other participant
// of a room and reconciles them against the room roster.
package mesh

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

const DefaultGraceWindow = time.Second

var ErrManagerStopped = errors.New("mesh manager stopped")

// Callbacks run on the manager loop. They must not block and must not call
// Manager methods synchronously.
type Callbacks struct {
	ServerConnected func(domain.PeerID)
	PeerReached     func(domain.PeerID)
	PeerUnavailable func(domain.PeerID)
	SessionClosed   func(domain.PeerID)
	MessageAppended func(domain.DataConnData)
}

// IdentityStore persists the local identity across restarts.
type IdentityStore interface {
	Save(domain.LocalIdentity) error
	Clear() error
}

type Options struct {
	GraceWindow time.Duration
	// ConnectNotice, when set, is sent as a message to peers that open a data channel to us.
	ConnectNotice string
	Store         IdentityStore
	Callbacks     Callbacks
}

// Manager owns every PeerSession. All state lives on the goroutine running Run;
// exported methods hand work to it and wait.
type Manager struct {
	sig      core.Signaling
	local    *media.Stream
	identity domain.LocalIdentity
	opts     Options

	sessions map[domain.PeerID]*session
	messages []domain.DataConnData

	tasks chan func()
	done  chan struct{}
}

func NewManager(sig core.Signaling, local *media.Stream, identity domain.LocalIdentity, opts Options) *Manager {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	return &Manager{
		sig:      sig,
		local:    local,
		identity: identity,
		opts:     opts,
		sessions: make(map[domain.PeerID]*session),
		tasks:    make(chan func(), 256),
		done:     make(chan struct{}),
	}
}

// Run processes signaling events and queued work until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	defer m.shutdown()

	events := m.sig.Events()
	log.Info().Str("module", "mesh").Str("peer", string(m.identity.PeerID)).Msg("mesh loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-m.tasks:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.handleSignal(ev)
		}
	}
}

func (m *Manager) shutdown() {
	for _, s := range m.sessions {
		if s.grace != nil {
			s.grace.Stop()
		}
		if !s.self {
			m.releaseChannels(s)
		}
	}
	close(m.done)
	log.Info().Str("module", "mesh").Msg("mesh loop stopped")
}

// do runs fn on the loop and waits for it.
func (m *Manager) do(fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case m.tasks <- task:
	case <-m.done:
		return ErrManagerStopped
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrManagerStopped
	}
}

// post queues fn without waiting. Used by timers and channel pumps.
func (m *Manager) post(fn func()) bool {
	select {
	case m.tasks <- fn:
		return true
	case <-m.done:
		return false
	}
}

// pump forwards one channel's events onto the loop until the channel closes them.
// After the loop stops it keeps draining so transports never block on us.
func (m *Manager) pump(events <-chan core.ChannelEvent, handle func(core.ChannelEvent)) {
	go func() {
		for ev := range events {
			ev := ev // per-iteration copy; go.mod targets go1.21 loop semantics
			m.post(func() { handle(ev) })
		}
	}()
}

func (m *Manager) armGrace(s *session) {
	s.gen++
	gen := s.gen
	peer := s.peer
	s.grace = time.AfterFunc(m.opts.GraceWindow, func() {
		m.post(func() { m.expire(peer, gen) })
	})
}

func (m *Manager) cancelGrace(s *session) {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	s.gen++
}

func (m *Manager) expire(peer domain.PeerID, gen uint64) {
	s, ok := m.sessions[peer]
	if !ok || s.gen != gen || s.state != StateClosing {
		return
	}
	m.remove(s)
}

func (m *Manager) remove(s *session) {
	m.cancelGrace(s)
	s.state = StateRemoved
	delete(m.sessions, s.peer)
	log.Info().Str("module", "mesh").Str("peer", string(s.peer)).Msg("session removed")
}
