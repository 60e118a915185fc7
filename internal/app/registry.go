package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

var ErrIDTaken = errors.New("peer id already connected")

type peerEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps live peer ids to their signaling sockets.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*peerEntry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.PeerID]*peerEntry)}
}

// Claim binds conn to its peer id. An id already bound to a live socket is not reissued.
func (r *Registry) Claim(conn core.SignalConnection, cancel context.CancelFunc) error {
	id := conn.Peer()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; ok {
		return ErrIDTaken
	}
	r.peers[id] = &peerEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("claimed id")
	return nil
}

func (r *Registry) Get(id domain.PeerID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.peers[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Release unbinds id only if it is still bound to conn, so a late cleanup of an
// old socket cannot evict a newer one.
func (r *Registry) Release(conn core.SignalConnection) bool {
	id := conn.Peer()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.peers, id)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("released id")
	return true
}

func (r *Registry) Cancel(id domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.peers[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("canceled peer")
	return true
}

func (r *Registry) Peers() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
