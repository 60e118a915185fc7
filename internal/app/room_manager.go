package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

type room struct {
	attenders map[domain.PeerID]string
}

// RoomManager is the in-process roster. Empty rooms are dropped.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomHash]*room
}

var _ core.RosterStore = (*RoomManager)(nil)

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomHash]*room)}
}

func (m *RoomManager) getOrCreate(hash domain.RoomHash) *room {
	if r, ok := m.rooms[hash]; ok {
		return r
	}
	r := &room{attenders: make(map[domain.PeerID]string)}
	m.rooms[hash] = r
	return r
}

func (m *RoomManager) Enter(_ context.Context, hash domain.RoomHash, a domain.Attender) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(hash).attenders[a.PeerID] = a.DisplayName
	return nil
}

func (m *RoomManager) Exit(_ context.Context, hash domain.RoomHash, peer domain.PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exit(hash, peer)
	return nil
}

func (m *RoomManager) exit(hash domain.RoomHash, peer domain.PeerID) bool {
	r, ok := m.rooms[hash]
	if !ok {
		return false
	}
	if _, ok := r.attenders[peer]; !ok {
		return false
	}
	delete(r.attenders, peer)
	if len(r.attenders) == 0 {
		delete(m.rooms, hash)
	}
	return true
}

func (m *RoomManager) ExitAll(_ context.Context, peer domain.PeerID) ([]domain.RoomHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var left []domain.RoomHash
	for hash := range m.rooms {
		if m.exit(hash, peer) {
			left = append(left, hash)
		}
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left, nil
}

func (m *RoomManager) Status(_ context.Context, hash domain.RoomHash) (domain.RoomStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := domain.RoomStatus{RoomHash: hash, Attenders: []domain.Attender{}}
	r, ok := m.rooms[hash]
	if !ok {
		return st, nil
	}
	for id, name := range r.attenders {
		st.Attenders = append(st.Attenders, domain.Attender{PeerID: id, DisplayName: name})
	}
	sort.Slice(st.Attenders, func(i, j int) bool { return st.Attenders[i].PeerID < st.Attenders[j].PeerID })
	return st, nil
}

// Rooms lists non-empty rooms with their sizes.
func (m *RoomManager) Rooms() map[domain.RoomHash]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.RoomHash]int, len(m.rooms))
	for hash, r := range m.rooms {
		out[hash] = len(r.attenders)
	}
	return out
}
