package rendezvous

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/adapters/rtc"
	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

const eventBuffer = 32

// peerConn is the state shared by media and data channels: one PeerConnection,
// one connection id and an ordered event stream ending with ChannelClose.
// Events are queued and forwarded by their own goroutine, so emitting never
// blocks the caller, even when the consumer is the one closing the channel.
type peerConn struct {
	client *Client
	id     string
	peer   domain.PeerID
	kind   domain.ChannelKind
	rtc    *rtc.WebRTCConnection
	logger zerolog.Logger

	events chan core.ChannelEvent
	wake   chan struct{}

	mu     sync.Mutex
	queue  []core.ChannelEvent
	done   bool
	opened bool

	iceMu     sync.Mutex
	described bool
	held      []*domain.ICECandidate
}

func newPeerConn(c *Client, id string, peer domain.PeerID, kind domain.ChannelKind) *peerConn {
	p := &peerConn{
		client: c,
		id:     id,
		peer:   peer,
		kind:   kind,
		events: make(chan core.ChannelEvent, eventBuffer),
		wake:   make(chan struct{}, 1),
		logger: log.With().Str("module", "rendezvous").Str("peer", string(peer)).Str("conn", id).Logger(),
	}
	go p.forward()
	return p
}

func (p *peerConn) ID() string                       { return p.id }
func (p *peerConn) Peer() domain.PeerID              { return p.peer }
func (p *peerConn) Events() <-chan core.ChannelEvent { return p.events }

// emit queues ev unless the stream already ended. Open is delivered at most once.
func (p *peerConn) emit(ev core.ChannelEvent) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	if ev.Kind == core.ChannelOpen {
		if p.opened {
			p.mu.Unlock()
			return
		}
		p.opened = true
	}
	p.queue = append(p.queue, ev)
	if ev.Kind == core.ChannelClose {
		p.done = true
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// forward moves queued events to the events channel in order and closes it
// after ChannelClose.
func (p *peerConn) forward() {
	for range p.wake {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, ev := range batch {
			p.events <- ev
			if ev.Kind == core.ChannelClose {
				close(p.events)
				return
			}
		}
	}
}

func (p *peerConn) isDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// signal sends a negotiation frame for this connection to the remote peer.
func (p *peerConn) signal(t domain.SignalType, payload domain.SignalPayload) {
	payload.ConnectionID = p.id
	payload.Kind = p.kind
	if err := p.client.sendSignal(t, p.peer, payload); err != nil {
		p.logger.Warn().Err(err).Str("type", string(t)).Msg("signal send failed")
	}
}

// describe sends an offer or answer, then any candidates gathered before it.
func (p *peerConn) describe(t domain.SignalType, payload domain.SignalPayload) {
	p.iceMu.Lock()
	defer p.iceMu.Unlock()
	p.signal(t, payload)
	p.described = true
	for _, c := range p.held {
		p.signal(domain.SignalCandidate, domain.SignalPayload{Candidate: c})
	}
	p.held = nil
}

func (p *peerConn) candidate(c *domain.ICECandidate) {
	p.iceMu.Lock()
	defer p.iceMu.Unlock()
	if !p.described {
		p.held = append(p.held, c)
		return
	}
	p.signal(domain.SignalCandidate, domain.SignalPayload{Candidate: c})
}

// shutdown releases the PeerConnection. When local, the remote side is told to
// drop its half as well.
func (p *peerConn) shutdown(local bool) {
	if p.isDone() {
		return
	}
	if local {
		p.signal(domain.SignalLeave, domain.SignalPayload{})
	}
	p.client.forget(p.id)
	if p.rtc != nil {
		p.rtc.Close()
	}
	// OnClosed normally emits this; it is a no-op if it already did.
	p.emit(core.ChannelEvent{Kind: core.ChannelClose})
}
