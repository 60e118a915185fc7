package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/media"
)

func TestDefaultWebRTCConfig(t *testing.T) {
	cfg := DefaultWebRTCConfig(nil)
	require.Len(t, cfg.ICEServers, 1)
	assert.Len(t, cfg.ICEServers[0].URLs, 10)
	for _, u := range cfg.ICEServers[0].URLs {
		assert.Contains(t, u, "stun:")
	}

	cfg = DefaultWebRTCConfig([]string{"stun:example.org:3478"})
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.ICEServers[0].URLs)
}

func newLoopbackPair(t *testing.T) (*WebRTCConnection, *WebRTCConnection) {
	t.Helper()
	api, err := NewAPI(APIOptions{IncludeLoopback: true})
	require.NoError(t, err)

	a, err := NewWebRTCConnection(api, webrtc.Configuration{}, "b", "dc_test")
	require.NoError(t, err)
	b, err := NewWebRTCConnection(api, webrtc.Configuration{}, "a", "dc_test")
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	// candidates go through AddICECandidate, which queues until the remote description lands
	a.OnICECandidate(func(ci webrtc.ICECandidateInit) { _ = b.AddICECandidate(ci) })
	b.OnICECandidate(func(ci webrtc.ICECandidateInit) { _ = a.AddICECandidate(ci) })
	return a, b
}

func TestLoopbackDataChannel(t *testing.T) {
	a, b := newLoopbackPair(t)

	got := make(chan string, 1)
	b.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { got <- string(msg.Data) })
	})
	connected := make(chan struct{})
	a.OnConnected(func() { close(connected) })

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	dc, err := a.CreateDataChannel("data")
	require.NoError(t, err)
	dc.OnOpen(func() { _ = dc.SendText("hello") })

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	answer, err := b.ApplyOfferAndCreateAnswer(*offer)
	require.NoError(t, err)
	require.NoError(t, a.ApplyAnswer(*answer))

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("peer connection never connected")
	}
	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(10 * time.Second):
		t.Fatal("data channel message not received")
	}
}

func TestClosedFiresOnce(t *testing.T) {
	a, _ := newLoopbackPair(t)
	count := 0
	a.OnClosed(func() { count++ })
	require.NoError(t, a.Start(context.Background()))

	a.Close()
	a.Close()
	assert.Equal(t, 1, count)
}

func TestReplaceTrackNeedsSender(t *testing.T) {
	a, _ := newLoopbackPair(t)
	require.NoError(t, a.Start(context.Background()))

	v1, err := media.NewLocalTrack(media.KindVideo, "s")
	require.NoError(t, err)
	assert.ErrorIs(t, a.ReplaceTrack(v1), ErrNoSender)

	_, err = a.AddLocalTrack(v1)
	require.NoError(t, err)
	v2, err := media.NewLocalTrack(media.KindVideo, "s")
	require.NoError(t, err)
	assert.NoError(t, a.ReplaceTrack(v2))
}
