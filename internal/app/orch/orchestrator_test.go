package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/app"
	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

type fakeConn struct {
	id   domain.PeerID
	full bool

	mu     sync.Mutex
	frames []domain.Envelope
}

func (c *fakeConn) TrySend(f core.Frame) error {
	if c.full {
		return app.ErrBackpressure
	}
	var env domain.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close()              {}
func (c *fakeConn) Peer() domain.PeerID { return c.id }

func (c *fakeConn) received() []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Envelope(nil), c.frames...)
}

func newOrch() *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
	}
}

func TestRelayStampsSource(t *testing.T) {
	o := newOrch()
	a, b := &fakeConn{id: "a"}, &fakeConn{id: "b"}
	require.NoError(t, o.Register(a, nil))
	require.NoError(t, o.Register(b, nil))

	env, err := domain.NewEnvelope(domain.SignalOffer, "b", domain.SignalPayload{ConnectionID: "mc_1", Kind: domain.ChannelMedia})
	require.NoError(t, err)
	env.Src = "spoofed"
	o.Relay("a", env)

	got := b.received()
	require.Len(t, got, 1)
	assert.Equal(t, domain.PeerID("a"), got[0].Src)
	assert.Equal(t, domain.SignalOffer, got[0].Type)
	assert.Empty(t, a.received())
}

func TestRelayToMissingPeerReportsStructuredError(t *testing.T) {
	o := newOrch()
	a := &fakeConn{id: "a"}
	require.NoError(t, o.Register(a, nil))

	o.Relay("a", domain.Envelope{Type: domain.SignalOffer, Dst: "ghost"})

	got := a.received()
	require.Len(t, got, 1)
	require.Equal(t, domain.SignalError, got[0].Type)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &p))
	assert.Equal(t, domain.SignalingPeerUnavailable, p.Kind)
	assert.Equal(t, domain.PeerID("ghost"), p.PeerID)
}

func TestBackpressureKicksSlowPeer(t *testing.T) {
	o := newOrch()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.Register(&fakeConn{id: "a"}, nil))
	require.NoError(t, o.Register(&fakeConn{id: "slow", full: true}, cancel))

	o.Relay("a", domain.Envelope{Type: domain.SignalCandidate, Dst: "slow"})
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestTolerantPolicyKeepsPeer(t *testing.T) {
	o := newOrch()
	o.Policy = app.TolerantPolicy{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Register(&fakeConn{id: "a"}, nil))
	require.NoError(t, o.Register(&fakeConn{id: "slow", full: true}, cancel))

	o.Relay("a", domain.Envelope{Type: domain.SignalCandidate, Dst: "slow"})
	assert.NoError(t, ctx.Err())
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	ctx := context.Background()
	o := newOrch()
	a := &fakeConn{id: "a"}
	require.NoError(t, o.Register(a, nil))
	_, err := o.Enter(ctx, domain.EnterRequest{RoomHash: "r", PeerID: "a", DisplayName: "Alice"})
	require.NoError(t, err)
	_, err = o.Enter(ctx, domain.EnterRequest{RoomHash: "r", PeerID: "b", DisplayName: "Bob"})
	require.NoError(t, err)

	o.Disconnect(ctx, a)

	st, err := o.Status(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"b"}, st.PeerIDs())
	_, ok := o.Registry.Get("a")
	assert.False(t, ok)
}

func TestDisconnectOfReplacedSocketKeepsMembership(t *testing.T) {
	ctx := context.Background()
	o := newOrch()
	old := &fakeConn{id: "a"}
	require.NoError(t, o.Register(old, nil))
	o.Disconnect(ctx, old)

	fresh := &fakeConn{id: "a"}
	require.NoError(t, o.Register(fresh, nil))
	_, err := o.Enter(ctx, domain.EnterRequest{RoomHash: "r", PeerID: "a"})
	require.NoError(t, err)

	o.Disconnect(ctx, old)
	st, _ := o.Status(ctx, "r")
	assert.Equal(t, []domain.PeerID{"a"}, st.PeerIDs())
}

func TestEnterClampsNameAndValidatesID(t *testing.T) {
	ctx := context.Background()
	o := newOrch()
	long := "  abcdefghijklmnopqrstuvwxyzabcdefghijklmnop  "
	st, err := o.Enter(ctx, domain.EnterRequest{RoomHash: "r", PeerID: "a", DisplayName: long})
	require.NoError(t, err)
	require.Len(t, st.Attenders, 1)
	assert.Len(t, []rune(st.Attenders[0].DisplayName), domain.MaxDisplayNameLen)

	_, err = o.Enter(ctx, domain.EnterRequest{RoomHash: "r", PeerID: "bad id"})
	assert.ErrorIs(t, err, domain.ErrPeerIDInvalid)
}
