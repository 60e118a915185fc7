package media

import (
	"sync"

	"github.com/pion/rtp"
)

// LossMeter is a Sink that counts missing RTP sequence numbers per SSRC.
type LossMeter struct {
	mu     sync.Mutex
	tracks map[uint32]*seqTrack
}

type seqTrack struct {
	kind     Kind
	base     int64
	highest  int64
	received uint64
}

type LossStats struct {
	Kind     Kind
	SSRC     uint32
	Expected uint64
	Lost     uint64
}

func NewLossMeter() *LossMeter {
	return &LossMeter{tracks: make(map[uint32]*seqTrack)}
}

func (m *LossMeter) WriteRTP(kind Kind, pkt *rtp.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := pkt.SequenceNumber
	t, ok := m.tracks[pkt.SSRC]
	if !ok {
		m.tracks[pkt.SSRC] = &seqTrack{kind: kind, base: int64(seq), highest: int64(seq), received: 1}
		return nil
	}
	// sequence numbers wrap at 16 bits; extend relative to the highest seen
	ext := t.highest + int64(int16(seq-uint16(t.highest)))
	if ext > t.highest {
		t.highest = ext
	}
	t.received++
	return nil
}

// Stats reports totals since the first packet of each SSRC. Reordered packets
// count as received once they arrive; duplicates can hide losses.
func (m *LossMeter) Stats() []LossStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LossStats, 0, len(m.tracks))
	for ssrc, t := range m.tracks {
		expected := uint64(t.highest - t.base + 1)
		var lost uint64
		if expected > t.received {
			lost = expected - t.received
		}
		out = append(out, LossStats{Kind: t.kind, SSRC: ssrc, Expected: expected, Lost: lost})
	}
	return out
}
