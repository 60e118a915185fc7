package rendezvous

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

func TestShutdownDoesNotWaitForReader(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/unused"}, nil)
	t.Cleanup(func() { _ = c.Close() })
	p := newPeerConn(c, "dc_test", "bob", domain.ChannelData)

	// nobody reads yet: far more events than the channel buffers
	n := 4 * eventBuffer
	for i := 0; i < n; i++ {
		p.emit(core.ChannelEvent{Kind: core.ChannelData, Data: domain.DataConnData{Type: domain.MessageText, Message: "x"}})
	}

	stopped := make(chan struct{})
	go func() {
		p.shutdown(false)
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked on a full event stream")
	}

	var data int
	var last core.ChannelEvent
	for ev := range p.Events() {
		if ev.Kind == core.ChannelData {
			data++
		}
		last = ev
	}
	assert.Equal(t, n, data)
	assert.Equal(t, core.ChannelClose, last.Kind)
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1/unused"}, nil)
	t.Cleanup(func() { _ = c.Close() })
	p := newPeerConn(c, "dc_test", "bob", domain.ChannelData)

	p.emit(core.ChannelEvent{Kind: core.ChannelOpen})
	p.emit(core.ChannelEvent{Kind: core.ChannelOpen})
	p.emit(core.ChannelEvent{Kind: core.ChannelClose})
	p.emit(core.ChannelEvent{Kind: core.ChannelData})

	var kinds []core.ChannelEventKind
	for ev := range p.Events() {
		kinds = append(kinds, ev.Kind)
	}
	require.Len(t, kinds, 2)
	assert.Equal(t, []core.ChannelEventKind{core.ChannelOpen, core.ChannelClose}, kinds)
}
