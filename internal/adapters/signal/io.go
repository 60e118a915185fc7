package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(c.peer)).Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Str("peer", string(c.peer)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(c.peer)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.Disconnect(context.Background(), c)
		if ctl.opts.Limiter != nil {
			ctl.opts.Limiter.Forget(c.peer)
		}
	}()

	pongWait := ctl.opts.PingPeriod * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(c.peer)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(c, data)
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, domain.SignalingBadPayload, "", "bad json")
		return
	}

	switch env.Type {
	case domain.SignalPing:
		ctl.handlePing(c)
	case domain.SignalPong:
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalCandidate, domain.SignalLeave:
		ctl.handleRelay(c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		ctl.sendError(c, domain.SignalingBadPayload, "", "unknown type "+string(env.Type))
	}
}

func (ctl *SignalWSController) sendEnvelope(c *WsSignalConn, t domain.SignalType, payload any) {
	env, err := domain.NewEnvelope(t, c.peer, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEnvelope payload")
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEnvelope marshal")
		return
	}
	_ = c.TrySend(b)
}
