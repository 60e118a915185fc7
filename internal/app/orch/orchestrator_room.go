package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

func (o *Orchestrator) Enter(ctx context.Context, req domain.EnterRequest) (domain.RoomStatus, error) {
	if err := req.PeerID.Validate(); err != nil {
		return domain.RoomStatus{}, err
	}
	name := domain.ClampDisplayName(req.DisplayName)
	if err := o.Rooms.Enter(ctx, req.RoomHash, domain.Attender{PeerID: req.PeerID, DisplayName: name}); err != nil {
		return domain.RoomStatus{}, fmt.Errorf("enter room: %w", err)
	}
	log.Info().Str("module", "orch").Str("peer", string(req.PeerID)).Str("room", string(req.RoomHash)).Msg("entered room")
	return o.Rooms.Status(ctx, req.RoomHash)
}

func (o *Orchestrator) Exit(ctx context.Context, req domain.ExitRequest) error {
	if err := o.Rooms.Exit(ctx, req.RoomHash, req.PeerID); err != nil {
		return fmt.Errorf("exit room: %w", err)
	}
	log.Info().Str("module", "orch").Str("peer", string(req.PeerID)).Str("room", string(req.RoomHash)).Msg("left room")
	return nil
}

func (o *Orchestrator) Status(ctx context.Context, room domain.RoomHash) (domain.RoomStatus, error) {
	return o.Rooms.Status(ctx, room)
}

// Disconnect runs when a peer's socket ends. The peer leaves every room so the
// remaining attenders' roster polls drop it.
func (o *Orchestrator) Disconnect(ctx context.Context, conn core.SignalConnection) {
	if !o.Registry.Release(conn) {
		return
	}
	left, err := o.Rooms.ExitAll(ctx, conn.Peer())
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", string(conn.Peer())).Msg("exit all rooms")
		return
	}
	for _, room := range left {
		log.Info().Str("module", "orch").Str("peer", string(conn.Peer())).Str("room", string(room)).Msg("removed on disconnect")
	}
}
