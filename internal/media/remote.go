package media

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RTPSource is satisfied by *webrtc.TrackRemote.
type RTPSource interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink receives every packet of every track in a RemoteStream.
type Sink interface {
	WriteRTP(kind Kind, pkt *rtp.Packet) error
}

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

type subscriber struct {
	sink  Sink
	state atomic.Int32
}

func (s *subscriber) getState() SinkState { return SinkState(s.state.Load()) }
func (s *subscriber) mark(st SinkState)   { s.state.Store(int32(st)) }

type remoteTrack struct {
	src     RTPSource
	kind    Kind
	packets atomic.Uint64
	bytes   atomic.Uint64
}

type TrackStats struct {
	TrackID string
	Kind    Kind
	Packets uint64
	Bytes   uint64
}

// RemoteStream collects the tracks a remote peer sends us and fans their packets out
// to subscribed sinks. Stopping it ends every read loop.
type RemoteStream struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	tracks map[string]*remoteTrack
	subs   map[string]*subscriber

	stopped atomic.Bool
	wg      sync.WaitGroup
}

func NewRemoteStream(ctx context.Context, id string) *RemoteStream {
	ctx, cancel := context.WithCancel(ctx)
	return &RemoteStream{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		tracks: make(map[string]*remoteTrack),
		subs:   make(map[string]*subscriber),
	}
}

func (r *RemoteStream) ID() string { return r.id }

// AddTrack starts a read loop for src. Adding a track with a known id is a no-op.
func (r *RemoteStream) AddTrack(src RTPSource) {
	if r.stopped.Load() {
		return
	}
	r.mu.Lock()
	if _, ok := r.tracks[src.ID()]; ok {
		r.mu.Unlock()
		return
	}
	rt := &remoteTrack{src: src, kind: KindOf(src.Kind())}
	r.tracks[src.ID()] = rt
	r.mu.Unlock()

	logger := log.With().
		Str("module", "media.remote").
		Str("stream", r.id).
		Str("track", src.ID()).
		Str("kind", string(rt.kind)).
		Logger()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(rt, &logger)
	}()
}

func (r *RemoteStream) loop(rt *remoteTrack, logger *zerolog.Logger) {
	for {
		select {
		case <-r.ctx.Done():
			logger.Debug().Msg("remote stream stopped")
			return
		default:
		}
		pkt, _, err := rt.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track read ended")
			return
		}
		rt.packets.Add(1)
		rt.bytes.Add(uint64(len(pkt.Payload)))
		r.forward(rt.kind, pkt, logger)
	}
}

func (r *RemoteStream) forward(kind Kind, pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*subscriber, len(r.subs))
	maps.Copy(snapshot, r.subs)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for id, sub := range snapshot {
		switch sub.getState() {
		case SinkStateDelete:
			dirty = append(dirty, id)
		case SinkStateMuted:
		case SinkStateOk:
			if err := sub.sink.WriteRTP(kind, pkt); err != nil {
				logger.Warn().Err(err).Str("sink", id).Msg("sink write failed, dropping sink")
				sub.mark(SinkStateDelete)
				dirty = append(dirty, id)
			}
		}
	}
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.subs, id)
		}
		r.mu.Unlock()
	}
}

func (r *RemoteStream) Subscribe(id string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id] = &subscriber{sink: sink}
}

func (r *RemoteStream) SetMuted(id string, muted bool) {
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if muted {
		sub.mark(SinkStateMuted)
	} else {
		sub.mark(SinkStateOk)
	}
}

func (r *RemoteStream) Unsubscribe(id string) {
	r.mu.RLock()
	sub, ok := r.subs[id]
	r.mu.RUnlock()
	if ok {
		sub.mark(SinkStateDelete)
	}
}

func (r *RemoteStream) Stats() []TrackStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TrackStats, 0, len(r.tracks))
	for id, t := range r.tracks {
		out = append(out, TrackStats{
			TrackID: id,
			Kind:    t.kind,
			Packets: t.packets.Load(),
			Bytes:   t.bytes.Load(),
		})
	}
	return out
}

func (r *RemoteStream) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.tracks))
	for _, t := range r.tracks {
		out = append(out, t.kind)
	}
	return out
}

// Stop ends the stream. Read loops exit once their blocked ReadRTP returns, which
// happens when the owning peer connection closes.
func (r *RemoteStream) Stop() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	r.cancel()
	r.mu.Lock()
	for _, sub := range r.subs {
		sub.mark(SinkStateDelete)
	}
	r.mu.Unlock()
}

func (r *RemoteStream) Stopped() bool { return r.stopped.Load() }

// Wait blocks until every read loop has returned.
func (r *RemoteStream) Wait() { r.wg.Wait() }
