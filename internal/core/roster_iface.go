package core

import (
	"context"

	"github.com/dkeye/meshroom/internal/domain"
)

// RosterStore keeps who is in which room. Implementations are safe for concurrent use.
type RosterStore interface {
	Enter(ctx context.Context, room domain.RoomHash, a domain.Attender) error
	Exit(ctx context.Context, room domain.RoomHash, peer domain.PeerID) error
	// ExitAll removes peer from every room and returns the rooms it left.
	ExitAll(ctx context.Context, peer domain.PeerID) ([]domain.RoomHash, error)
	// Status of an unknown room is an empty roster, not an error.
	Status(ctx context.Context, room domain.RoomHash) (domain.RoomStatus, error)
}
