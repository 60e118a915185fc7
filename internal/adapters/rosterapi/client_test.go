package rosterapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/domain"
)

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/rooms/status/abc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(domain.RoomStatus{
			RoomHash:  "abc",
			Attenders: []domain.Attender{{PeerID: "p1", DisplayName: "Ada"}},
		})
	}))
	defer srv.Close()

	st, err := New(srv.URL+"/", nil).Status(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"p1"}, st.PeerIDs())
}

func TestEnterSendsBody(t *testing.T) {
	var got domain.EnterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/enter", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(domain.RoomStatus{RoomHash: got.RoomHash, Attenders: []domain.Attender{{PeerID: got.PeerID}}})
	}))
	defer srv.Close()

	req := domain.EnterRequest{RoomHash: "r", PeerID: "me", DisplayName: "Me"}
	st, err := New(srv.URL, nil).Enter(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req, got)
	assert.Equal(t, []domain.PeerID{"me"}, st.PeerIDs())
}

func TestExitNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := New(srv.URL, nil).Exit(context.Background(), domain.ExitRequest{RoomHash: "r", PeerID: "me"})
	assert.NoError(t, err)
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"peer id invalid"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Enter(context.Background(), domain.EnterRequest{RoomHash: "r", PeerID: "x"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "peer id invalid", se.Message)
}

func TestCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, nil).Status(ctx, "r")
	assert.ErrorIs(t, err, context.Canceled)
}
