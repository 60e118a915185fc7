package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

var connSeq atomic.Int64

// fakeNet pairs the channels of managers registered on it, the way a rendezvous
// server plus real transports would.
type fakeNet struct {
	mu    sync.Mutex
	peers map[domain.PeerID]*fakeSignaling
}

func newFakeNet() *fakeNet {
	return &fakeNet{peers: make(map[domain.PeerID]*fakeSignaling)}
}

func (n *fakeNet) join(id domain.PeerID) *fakeSignaling {
	s := &fakeSignaling{net: n, id: id, events: make(chan core.SignalEvent, 64)}
	n.mu.Lock()
	n.peers[id] = s
	n.mu.Unlock()
	return s
}

func (n *fakeNet) peer(id domain.PeerID) *fakeSignaling {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

type fakeSignaling struct {
	net    *fakeNet
	id     domain.PeerID
	events chan core.SignalEvent

	mu       sync.Mutex
	media    []*fakeMedia
	data     []*fakeData
	closed   bool
	failCall bool
}

func (s *fakeSignaling) Events() <-chan core.SignalEvent { return s.events }

func (s *fakeSignaling) CallPeer(remote domain.PeerID, local *media.Stream) (core.MediaChannel, error) {
	s.mu.Lock()
	fail := s.failCall
	s.mu.Unlock()
	if fail {
		return nil, errors.New("transport down")
	}
	mc := newFakeMedia(remote)
	s.mu.Lock()
	s.media = append(s.media, mc)
	s.mu.Unlock()

	if other := s.net.peer(remote); other != nil {
		in := newFakeMedia(s.id)
		mc.link(in)
		mc.localStream = local
		other.events <- core.SignalEvent{Kind: core.InboundMedia, PeerID: s.id, Media: in}
	}
	return mc, nil
}

func (s *fakeSignaling) ConnectData(remote domain.PeerID) (core.DataChannel, error) {
	dc := newFakeData(remote)
	s.mu.Lock()
	s.data = append(s.data, dc)
	s.mu.Unlock()

	if other := s.net.peer(remote); other != nil {
		in := newFakeData(s.id)
		dc.link(in)
		other.events <- core.SignalEvent{Kind: core.InboundData, PeerID: s.id, Data: in}
		dc.emit(core.ChannelEvent{Kind: core.ChannelOpen})
		in.emit(core.ChannelEvent{Kind: core.ChannelOpen})
	}
	return dc, nil
}

func (s *fakeSignaling) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSignaling) outboundMedia() []*fakeMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeMedia(nil), s.media...)
}

func (s *fakeSignaling) outboundData() []*fakeData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeData(nil), s.data...)
}

// fakeChannel is the shared event plumbing of both fake channel kinds.
type fakeChannel struct {
	id   string
	peer domain.PeerID

	mu     sync.Mutex
	events chan core.ChannelEvent
	closed bool
	closes int
	other  *fakeChannel
}

func (c *fakeChannel) setup(prefix string, peer domain.PeerID) {
	c.id = fmt.Sprintf("%s_%d", prefix, connSeq.Add(1))
	c.peer = peer
	c.events = make(chan core.ChannelEvent, 64)
}

func (c *fakeChannel) ID() string                       { return c.id }
func (c *fakeChannel) Peer() domain.PeerID              { return c.peer }
func (c *fakeChannel) Events() <-chan core.ChannelEvent { return c.events }

func (c *fakeChannel) emit(ev core.ChannelEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
	if ev.Kind == core.ChannelClose {
		c.closed = true
		close(c.events)
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	other := c.other
	c.mu.Unlock()
	c.emit(core.ChannelEvent{Kind: core.ChannelClose})
	if other != nil {
		other.emit(core.ChannelEvent{Kind: core.ChannelClose})
	}
	return nil
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeMedia struct {
	fakeChannel
	localStream *media.Stream

	tmu      sync.Mutex
	replaced []*media.LocalTrack
	remote   *fakeMedia
}

func newFakeMedia(peer domain.PeerID) *fakeMedia {
	f := &fakeMedia{}
	f.setup("mc", peer)
	return f
}

func (f *fakeMedia) link(other *fakeMedia) {
	f.other = &other.fakeChannel
	other.other = &f.fakeChannel
	f.remote = other
	other.remote = f
}

// Answer completes the call: both ends open and receive each other's stream.
func (f *fakeMedia) Answer(local *media.Stream) error {
	f.localStream = local
	if f.remote == nil {
		return errors.New("no caller")
	}
	f.emit(core.ChannelEvent{Kind: core.ChannelOpen})
	f.remote.emit(core.ChannelEvent{Kind: core.ChannelOpen})
	f.emit(core.ChannelEvent{Kind: core.ChannelStream, Stream: media.NewRemoteStream(context.Background(), string(f.remote.peer))})
	f.remote.emit(core.ChannelEvent{Kind: core.ChannelStream, Stream: media.NewRemoteStream(context.Background(), string(f.peer))})
	return nil
}

func (f *fakeMedia) ReplaceTrack(t *media.LocalTrack) error {
	f.tmu.Lock()
	defer f.tmu.Unlock()
	f.replaced = append(f.replaced, t)
	return nil
}

func (f *fakeMedia) replacedTracks() []*media.LocalTrack {
	f.tmu.Lock()
	defer f.tmu.Unlock()
	return append([]*media.LocalTrack(nil), f.replaced...)
}

type fakeData struct {
	fakeChannel

	smu    sync.Mutex
	sent   []domain.DataConnData
	remote *fakeData
}

func newFakeData(peer domain.PeerID) *fakeData {
	f := &fakeData{}
	f.setup("dc", peer)
	return f
}

func (f *fakeData) link(other *fakeData) {
	f.other = &other.fakeChannel
	other.other = &f.fakeChannel
	f.remote = other
	other.remote = f
}

func (f *fakeData) Send(msg domain.DataConnData) error {
	f.smu.Lock()
	f.sent = append(f.sent, msg)
	f.smu.Unlock()
	if f.remote != nil {
		f.remote.emit(core.ChannelEvent{Kind: core.ChannelData, Data: msg})
	}
	return nil
}

func (f *fakeData) sentMessages() []domain.DataConnData {
	f.smu.Lock()
	defer f.smu.Unlock()
	return append([]domain.DataConnData(nil), f.sent...)
}

type memStore struct {
	mu      sync.Mutex
	saved   *domain.LocalIdentity
	cleared int
}

func (s *memStore) Save(id domain.LocalIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = &id
	return nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	s.cleared++
	return nil
}

type recorder struct {
	mu          sync.Mutex
	reached     []domain.PeerID
	unavailable []domain.PeerID
	closed      []domain.PeerID
}

func (r *recorder) callbacks() Callbacks {
	add := func(dst *[]domain.PeerID) func(domain.PeerID) {
		return func(p domain.PeerID) {
			r.mu.Lock()
			defer r.mu.Unlock()
			*dst = append(*dst, p)
		}
	}
	return Callbacks{
		PeerReached:     add(&r.reached),
		PeerUnavailable: add(&r.unavailable),
		SessionClosed:   add(&r.closed),
	}
}

func (r *recorder) closedPeers() []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PeerID(nil), r.closed...)
}

type harness struct {
	mgr   *Manager
	sig   *fakeSignaling
	rec   *recorder
	store *memStore
	local *media.Stream
}

const testGrace = 150 * time.Millisecond

func startManager(t *testing.T, net *fakeNet, id domain.PeerID, name string, tweaks ...func(*Options)) *harness {
	t.Helper()
	h := &harness{sig: net.join(id), rec: &recorder{}, store: &memStore{}, local: media.NewStream()}
	opts := Options{
		GraceWindow: testGrace,
		Store:       h.store,
		Callbacks:   h.rec.callbacks(),
	}
	for _, tw := range tweaks {
		tw(&opts)
	}
	h.mgr = NewManager(h.sig, h.local, domain.LocalIdentity{PeerID: id, DisplayName: name}, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.mgr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) session(id domain.PeerID) (SessionView, bool) {
	for _, v := range h.mgr.Sessions() {
		if v.PeerID == id {
			return v, true
		}
	}
	return SessionView{}, false
}

func (h *harness) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
