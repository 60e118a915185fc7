package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/domain"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendEnvelope(conn, domain.SignalPong, nil)
}

func (ctl *SignalWSController) handleRelay(conn *WsSignalConn, env domain.Envelope) {
	if env.Dst == "" {
		ctl.sendError(conn, domain.SignalingBadPayload, "", "missing dst")
		return
	}
	if lim := ctl.opts.Limiter; lim != nil && !lim.Allow(conn.peer) {
		log.Warn().Str("module", "signal").Str("peer", string(conn.peer)).Msg("rate limited")
		ctl.sendError(conn, domain.SignalingRateLimited, env.Dst, "too many messages")
		return
	}
	ctl.Orch.Relay(conn.peer, env)
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, kind domain.SignalingErrorKind, peer domain.PeerID, msg string) {
	ctl.sendEnvelope(conn, domain.SignalError, domain.ErrorPayload{Kind: kind, PeerID: peer, Message: msg})
}
