package rendezvous

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/adapters/rtc"
	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

// relay is a minimal rendezvous server: it assigns ids and forwards frames by Dst.
type relay struct {
	mu    sync.Mutex
	peers map[domain.PeerID]*websocket.Conn
}

func newRelay(t *testing.T) (*relay, string) {
	r := &relay{peers: make(map[domain.PeerID]*websocket.Conn)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		id := domain.PeerID(req.URL.Query().Get("id"))
		r.mu.Lock()
		if id == "" {
			id = domain.NewPeerID()
		}
		if _, taken := r.peers[id]; taken {
			r.mu.Unlock()
			r.write(ws, domain.Envelope{Type: domain.SignalIDTaken})
			_ = ws.Close()
			return
		}
		r.peers[id] = ws
		r.mu.Unlock()

		open, _ := domain.NewEnvelope(domain.SignalOpen, "", domain.OpenPayload{PeerID: id})
		r.write(ws, open)
		for {
			var env domain.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				r.mu.Lock()
				delete(r.peers, id)
				r.mu.Unlock()
				return
			}
			if env.Type == domain.SignalPing {
				continue
			}
			env.Src = id
			r.mu.Lock()
			dst, ok := r.peers[env.Dst]
			r.mu.Unlock()
			if !ok {
				e, _ := domain.NewEnvelope(domain.SignalError, "", domain.ErrorPayload{
					Kind:    domain.SignalingPeerUnavailable,
					PeerID:  env.Dst,
					Message: "Could not connect to peer " + string(env.Dst),
				})
				r.write(ws, e)
				continue
			}
			r.write(dst, env)
		}
	}))
	t.Cleanup(srv.Close)
	return r, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (r *relay) write(ws *websocket.Conn, env domain.Envelope) {
	b, _ := json.Marshal(env)
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	api, err := rtc.NewAPI(rtc.APIOptions{IncludeLoopback: true})
	require.NoError(t, err)
	c := New(Config{URL: url, ICEServers: []string{}}, api)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextSignal(t *testing.T, c *Client) core.SignalEvent {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no signaling event")
	}
	return core.SignalEvent{}
}

func nextChannel(t *testing.T, events <-chan core.ChannelEvent, kind core.ChannelEventKind) core.ChannelEvent {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestOpenAssignsID(t *testing.T) {
	_, url := newRelay(t)
	c := newTestClient(t, url)

	id, err := c.Open(context.Background(), "")
	require.NoError(t, err)
	assert.NoError(t, id.Validate())
	assert.Equal(t, id, c.ID())

	ev := nextSignal(t, c)
	assert.Equal(t, core.ServerConnected, ev.Kind)
	assert.Equal(t, id, ev.PeerID)
}

func TestOpenKeepsRequestedID(t *testing.T) {
	_, url := newRelay(t)
	c := newTestClient(t, url)

	id, err := c.Open(context.Background(), "wanted-id")
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("wanted-id"), id)
}

func TestOpenFallsBackWhenIDTaken(t *testing.T) {
	_, url := newRelay(t)
	first := newTestClient(t, url)
	_, err := first.Open(context.Background(), "same")
	require.NoError(t, err)

	second := newTestClient(t, url)
	id, err := second.Open(context.Background(), "same")
	require.NoError(t, err)
	assert.NotEqual(t, domain.PeerID("same"), id)
}

func TestCallBeforeOpen(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/unused")
	_, err := c.ConnectData("someone")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPeerUnavailableIsReported(t *testing.T) {
	_, url := newRelay(t)
	c := newTestClient(t, url)
	_, err := c.Open(context.Background(), "")
	require.NoError(t, err)
	nextSignal(t, c)

	ghost := domain.NewPeerID()
	dc, err := c.ConnectData(ghost)
	require.NoError(t, err)

	ev := nextSignal(t, c)
	require.Equal(t, core.FatalError, ev.Kind)
	require.NotNil(t, ev.Err)
	assert.Equal(t, domain.SignalingPeerUnavailable, ev.Err.Kind)
	assert.Equal(t, ghost, ev.PeerID)

	nextChannel(t, dc.Events(), core.ChannelClose)
}

func TestDataChannelRoundTrip(t *testing.T) {
	_, url := newRelay(t)
	a := newTestClient(t, url)
	b := newTestClient(t, url)
	_, err := a.Open(context.Background(), "alice")
	require.NoError(t, err)
	_, err = b.Open(context.Background(), "bob")
	require.NoError(t, err)
	nextSignal(t, a)
	nextSignal(t, b)

	out, err := a.ConnectData("bob")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.ID(), "dc_"))

	ev := nextSignal(t, b)
	require.Equal(t, core.InboundData, ev.Kind)
	assert.Equal(t, domain.PeerID("alice"), ev.PeerID)
	in := ev.Data
	assert.Equal(t, out.ID(), in.ID())

	nextChannel(t, out.Events(), core.ChannelOpen)
	nextChannel(t, in.Events(), core.ChannelOpen)

	msg := domain.DataConnData{Type: domain.MessageText, SenderPeerID: "alice", Message: "hi"}
	require.NoError(t, out.Send(msg))
	got := nextChannel(t, in.Events(), core.ChannelData)
	assert.Equal(t, msg, got.Data)

	require.NoError(t, out.Close())
	nextChannel(t, in.Events(), core.ChannelClose)
}

func TestCloseEndsEvents(t *testing.T) {
	_, url := newRelay(t)
	c := newTestClient(t, url)
	_, err := c.Open(context.Background(), "")
	require.NoError(t, err)
	nextSignal(t, c)

	require.NoError(t, c.Close())
	select {
	case _, ok := <-c.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("events not closed")
	}
	_, err = c.ConnectData("x")
	assert.ErrorIs(t, err, ErrClosed)
}
