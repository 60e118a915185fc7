package media

import (
	"sync"

	"github.com/google/uuid"
)

// Stream is the composited local output. Every peer session holds the same *Stream;
// tracks are swapped in place so holders keep a valid reference across mode switches.
type Stream struct {
	id string

	mu        sync.RWMutex
	tracks    map[Kind]*LocalTrack
	listeners []func(Kind, *LocalTrack)
}

func NewStream() *Stream {
	return &Stream{
		id:     uuid.NewString(),
		tracks: make(map[Kind]*LocalTrack),
	}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Track(kind Kind) *LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracks[kind]
}

// Tracks returns video before audio so SDP m-line order is stable.
func (s *Stream) Tracks() []*LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*LocalTrack, 0, 2)
	for _, k := range []Kind{KindVideo, KindAudio} {
		if t, ok := s.tracks[k]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ReplaceTrack installs t for its kind and returns the previous track, which the
// caller still owns. The enabled flag carries over to the new track.
func (s *Stream) ReplaceTrack(t *LocalTrack) *LocalTrack {
	s.mu.Lock()
	old := s.tracks[t.Kind()]
	if old != nil {
		t.SetEnabled(old.Enabled())
	}
	s.tracks[t.Kind()] = t
	listeners := append([]func(Kind, *LocalTrack){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(t.Kind(), t)
	}
	return old
}

// OnTrackReplaced registers fn to run after every ReplaceTrack, outside the lock.
func (s *Stream) OnTrackReplaced(fn func(Kind, *LocalTrack)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Stream) SetEnabled(kind Kind, v bool) bool {
	t := s.Track(kind)
	if t == nil {
		return false
	}
	t.SetEnabled(v)
	return true
}

func (s *Stream) Stop() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		t.Stop()
	}
}
