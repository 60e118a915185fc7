package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/adapters/rosterapi"
	"github.com/dkeye/meshroom/internal/app/mesh"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

const (
	statsEvery = 10
	lossSink   = "loss"
)

// room keeps the mesh in line with the roster and watches remote streams.
type room struct {
	hash     domain.RoomHash
	roster   *rosterapi.Client
	mgr      *mesh.Manager
	interval time.Duration

	watched map[string]*watchedStream
}

type watchedStream struct {
	remote *media.RemoteStream
	loss   *media.LossMeter
	last   map[string]uint64
}

// join enters the room and calls everyone already there, ourselves included.
func (r *room) join(ctx context.Context, self domain.LocalIdentity) error {
	st, err := r.roster.Enter(ctx, domain.EnterRequest{RoomHash: r.hash, PeerID: self.PeerID, DisplayName: self.DisplayName})
	if err != nil {
		return err
	}
	for _, a := range st.Attenders {
		if err := r.mgr.ConnectMedia(a.PeerID, a.DisplayName); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("peer", string(a.PeerID)).Msg("connect")
		}
	}
	return nil
}

func (r *room) leave(self domain.PeerID) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.roster.Exit(ctx, domain.ExitRequest{RoomHash: r.hash, PeerID: self}); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("room exit")
	}
	for id, w := range r.watched {
		r.unwatch(id, w)
	}
}

// poll reconciles against the roster until ctx ends.
func (r *room) poll(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := r.roster.Status(ctx, r.hash)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("room status")
		} else if err := r.mgr.CheckMedias(st.Attenders); err != nil {
			return
		}
		tick++
		r.watch(tick%statsEvery == 0)
	}
}

func (r *room) watch(report bool) {
	seen := make(map[string]bool)
	for _, s := range r.mgr.Sessions() {
		if s.Remote == nil || s.Remote.Stopped() {
			continue
		}
		id := s.Remote.ID()
		seen[id] = true
		w, ok := r.watched[id]
		if !ok {
			w = &watchedStream{remote: s.Remote, loss: media.NewLossMeter(), last: make(map[string]uint64)}
			s.Remote.Subscribe(lossSink, w.loss)
			r.watched[id] = w
		}
		if report {
			for _, st := range s.Remote.Stats() {
				rate := float64(st.Bytes-w.last[st.TrackID]) * 8 / (float64(statsEvery) * r.interval.Seconds()) / 1000
				w.last[st.TrackID] = st.Bytes
				log.Info().Str("module", "client").Str("peer", string(s.PeerID)).Str("kind", string(st.Kind)).
					Uint64("packets", st.Packets).Float64("kbps", rate).Msg("receiving")
			}
			for _, l := range w.loss.Stats() {
				if l.Lost > 0 {
					log.Info().Str("module", "client").Str("peer", string(s.PeerID)).Str("kind", string(l.Kind)).
						Uint64("lost", l.Lost).Uint64("expected", l.Expected).Msg("packet loss")
				}
			}
		}
	}
	for id, w := range r.watched {
		if !seen[id] {
			r.unwatch(id, w)
		}
	}
}

func (r *room) unwatch(id string, w *watchedStream) {
	w.remote.Unsubscribe(lossSink)
	delete(r.watched, id)
}
