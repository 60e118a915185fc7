package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

// RosterStore keeps each room as a hash of peer id to display name and each
// peer's rooms as a set, both expiring after ttl without activity.
type RosterStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ core.RosterStore = (*RosterStore)(nil)

func NewRosterStore(client redis.Cmdable, ttl time.Duration) *RosterStore {
	return &RosterStore{client: client, ttl: ttl}
}

func roomKey(hash domain.RoomHash) string {
	return fmt.Sprintf("room:%s:attenders", hash)
}

func peerKey(id domain.PeerID) string {
	return fmt.Sprintf("peer:%s:rooms", id)
}

func (s *RosterStore) Enter(ctx context.Context, hash domain.RoomHash, a domain.Attender) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomKey(hash), string(a.PeerID), a.DisplayName)
		pipe.SAdd(ctx, peerKey(a.PeerID), string(hash))
		if s.ttl > 0 {
			pipe.Expire(ctx, roomKey(hash), s.ttl)
			pipe.Expire(ctx, peerKey(a.PeerID), s.ttl)
		}
		return nil
	})
	return err
}

func (s *RosterStore) Exit(ctx context.Context, hash domain.RoomHash, peer domain.PeerID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, roomKey(hash), string(peer))
		pipe.SRem(ctx, peerKey(peer), string(hash))
		return nil
	})
	return err
}

func (s *RosterStore) ExitAll(ctx context.Context, peer domain.PeerID) ([]domain.RoomHash, error) {
	rooms, err := s.client.SMembers(ctx, peerKey(peer)).Result()
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range rooms {
			pipe.HDel(ctx, roomKey(domain.RoomHash(r)), string(peer))
		}
		pipe.Del(ctx, peerKey(peer))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(rooms)
	out := make([]domain.RoomHash, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, domain.RoomHash(r))
	}
	return out, nil
}

func (s *RosterStore) Status(ctx context.Context, hash domain.RoomHash) (domain.RoomStatus, error) {
	m, err := s.client.HGetAll(ctx, roomKey(hash)).Result()
	if err != nil {
		return domain.RoomStatus{}, err
	}
	return statusFromHash(hash, m), nil
}

func statusFromHash(hash domain.RoomHash, m map[string]string) domain.RoomStatus {
	st := domain.RoomStatus{RoomHash: hash, Attenders: make([]domain.Attender, 0, len(m))}
	for id, name := range m {
		st.Attenders = append(st.Attenders, domain.Attender{PeerID: domain.PeerID(id), DisplayName: name})
	}
	sort.Slice(st.Attenders, func(i, j int) bool { return st.Attenders[i].PeerID < st.Attenders[j].PeerID })
	return st
}
