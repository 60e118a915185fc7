package media

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(ssrc uint32, seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SSRC: ssrc, SequenceNumber: seq}}
}

func TestLossMeterCountsGapsAcrossWrap(t *testing.T) {
	m := NewLossMeter()
	for _, seq := range []uint16{65534, 65535, 1, 2} {
		require.NoError(t, m.WriteRTP(KindAudio, pkt(7, seq)))
	}

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, KindAudio, stats[0].Kind)
	assert.Equal(t, uint32(7), stats[0].SSRC)
	assert.Equal(t, uint64(5), stats[0].Expected)
	assert.Equal(t, uint64(1), stats[0].Lost)
}

func TestLossMeterReorderedPacketIsNotLost(t *testing.T) {
	m := NewLossMeter()
	for _, seq := range []uint16{10, 12, 11, 13} {
		require.NoError(t, m.WriteRTP(KindVideo, pkt(1, seq)))
	}
	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(4), stats[0].Expected)
	assert.Zero(t, stats[0].Lost)
}

func TestLossMeterSeparatesSSRCs(t *testing.T) {
	m := NewLossMeter()
	require.NoError(t, m.WriteRTP(KindAudio, pkt(1, 100)))
	require.NoError(t, m.WriteRTP(KindVideo, pkt(2, 5)))
	require.NoError(t, m.WriteRTP(KindVideo, pkt(2, 9)))

	byKind := map[Kind]LossStats{}
	for _, s := range m.Stats() {
		byKind[s.Kind] = s
	}
	assert.Zero(t, byKind[KindAudio].Lost)
	assert.Equal(t, uint64(3), byKind[KindVideo].Lost)
}
