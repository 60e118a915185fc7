package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/domain"
)

func TestRoomManagerEnterStatusExit(t *testing.T) {
	ctx := context.Background()
	m := NewRoomManager()

	require.NoError(t, m.Enter(ctx, "r1", domain.Attender{PeerID: "b", DisplayName: "Bob"}))
	require.NoError(t, m.Enter(ctx, "r1", domain.Attender{PeerID: "a", DisplayName: "Alice"}))

	st, err := m.Status(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomHash("r1"), st.RoomHash)
	assert.Equal(t, []domain.Attender{
		{PeerID: "a", DisplayName: "Alice"},
		{PeerID: "b", DisplayName: "Bob"},
	}, st.Attenders)

	require.NoError(t, m.Exit(ctx, "r1", "a"))
	st, _ = m.Status(ctx, "r1")
	assert.Equal(t, []domain.PeerID{"b"}, st.PeerIDs())
}

func TestRoomManagerUnknownRoomIsEmpty(t *testing.T) {
	st, err := NewRoomManager().Status(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, st.Attenders)
	assert.Empty(t, st.Attenders)
}

func TestRoomManagerReenterUpdatesName(t *testing.T) {
	ctx := context.Background()
	m := NewRoomManager()
	require.NoError(t, m.Enter(ctx, "r", domain.Attender{PeerID: "a", DisplayName: "old"}))
	require.NoError(t, m.Enter(ctx, "r", domain.Attender{PeerID: "a", DisplayName: "new"}))
	st, _ := m.Status(ctx, "r")
	require.Len(t, st.Attenders, 1)
	assert.Equal(t, "new", st.Attenders[0].DisplayName)
}

func TestRoomManagerExitAllDropsEmptyRooms(t *testing.T) {
	ctx := context.Background()
	m := NewRoomManager()
	require.NoError(t, m.Enter(ctx, "r1", domain.Attender{PeerID: "a"}))
	require.NoError(t, m.Enter(ctx, "r2", domain.Attender{PeerID: "a"}))
	require.NoError(t, m.Enter(ctx, "r2", domain.Attender{PeerID: "b"}))

	left, err := m.ExitAll(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []domain.RoomHash{"r1", "r2"}, left)
	assert.Equal(t, map[domain.RoomHash]int{"r2": 1}, m.Rooms())
}
