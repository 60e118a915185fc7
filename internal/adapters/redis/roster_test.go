package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/config"
	"github.com/dkeye/meshroom/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "room:abc:attenders", roomKey("abc"))
	assert.Equal(t, "peer:p-1:rooms", peerKey("p-1"))
}

func TestStatusFromHashSorted(t *testing.T) {
	st := statusFromHash("r", map[string]string{"b": "Bob", "a": "Alice"})
	assert.Equal(t, domain.RoomHash("r"), st.RoomHash)
	assert.Equal(t, []domain.Attender{
		{PeerID: "a", DisplayName: "Alice"},
		{PeerID: "b", DisplayName: "Bob"},
	}, st.Attenders)

	empty := statusFromHash("r", nil)
	assert.NotNil(t, empty.Attenders)
	assert.Empty(t, empty.Attenders)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Connect(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}

func TestStoreReportsClientErrors(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()
	s := NewRosterStore(client, time.Minute)

	ctx := context.Background()
	assert.Error(t, s.Enter(ctx, "r", domain.Attender{PeerID: "a"}))
	_, err := s.Status(ctx, "r")
	assert.Error(t, err)
	_, err = s.ExitAll(ctx, "a")
	assert.Error(t, err)
}
