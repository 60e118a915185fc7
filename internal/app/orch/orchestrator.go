// Package orch binds signaling sockets, relaying and room membership together on the server.
package orch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/app"
	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RosterStore
	Policy   app.Policy
}

// Register binds conn to its peer id.
func (o *Orchestrator) Register(conn core.SignalConnection, cancel context.CancelFunc) error {
	return o.Registry.Claim(conn, cancel)
}

// Relay forwards env from src to env.Dst with Src stamped. An absent destination is
// reported back to src as a structured peer-unavailable error.
func (o *Orchestrator) Relay(src domain.PeerID, env domain.Envelope) {
	env.Src = src
	dst, ok := o.Registry.Get(env.Dst)
	if !ok {
		o.SendError(src, domain.ErrorPayload{
			Kind:    domain.SignalingPeerUnavailable,
			PeerID:  env.Dst,
			Message: "Could not connect to peer " + string(env.Dst),
		})
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("relay marshal")
		return
	}
	o.deliver(dst, b)
}

func (o *Orchestrator) SendError(to domain.PeerID, p domain.ErrorPayload) {
	conn, ok := o.Registry.Get(to)
	if !ok {
		return
	}
	env, err := domain.NewEnvelope(domain.SignalError, to, p)
	if err != nil {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	o.deliver(conn, b)
}

func (o *Orchestrator) deliver(conn core.SignalConnection, f core.Frame) {
	err := conn.TrySend(f)
	if err == nil || o.Policy == nil {
		return
	}
	if !errors.Is(err, app.ErrBackpressure) {
		return
	}
	switch o.Policy.OnBackPressure(conn.Peer()) {
	case app.KickPeer:
		log.Warn().Str("module", "orch").Str("peer", string(conn.Peer())).Msg("kicking slow peer")
		o.Kick(conn.Peer())
	case app.DropFrame, app.NoAction:
		log.Debug().Str("module", "orch").Str("peer", string(conn.Peer())).Msg("frame dropped")
	}
}

// Kick cancels a peer's socket; its read pump then runs Disconnect.
func (o *Orchestrator) Kick(id domain.PeerID) {
	o.Registry.Cancel(id)
}
