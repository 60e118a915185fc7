package rendezvous

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

func (c *Client) writePump(ws *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	ping, _ := json.Marshal(domain.Envelope{Type: domain.SignalPing})

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(ws, ping); err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Msg("writePump ping")
				return
			}
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := c.write(ws, data); err != nil {
				log.Error().Err(err).Str("module", "rendezvous").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) write(ws *websocket.Conn, data []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readPump(ws *websocket.Conn) {
	defer close(c.events)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if !closed && c.send != nil {
				close(c.send)
				c.send = nil
			}
			c.mu.Unlock()
			if closed {
				log.Info().Str("module", "rendezvous").Msg("readPump closing")
				return
			}
			log.Error().Err(err).Str("module", "rendezvous").Msg("readPump read error")
			_ = ws.Close()
			c.emit(core.SignalEvent{Kind: core.ServerDisconnected})
			c.emit(core.SignalEvent{
				Kind: core.FatalError,
				Err:  &domain.SignalingError{Kind: domain.SignalingTransportLost, Message: err.Error()},
			})
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "rendezvous").Msg("bad json")
		return
	}
	logger := log.With().Str("module", "rendezvous").Str("type", string(env.Type)).Str("src", string(env.Src)).Logger()

	switch env.Type {
	case domain.SignalPing:
		_ = c.sendSignal(domain.SignalPong, env.Src, nil)
	case domain.SignalPong:
	case domain.SignalError:
		var p domain.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logger.Warn().Err(err).Msg("bad error payload")
			return
		}
		c.handleError(domain.SignalingErrorFromPayload(p))
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalCandidate, domain.SignalLeave:
		var p domain.SignalPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				logger.Warn().Err(err).Msg("bad signal payload")
				return
			}
		}
		c.handleNegotiation(env.Type, env.Src, p)
	default:
		logger.Warn().Msg("unknown signal")
	}
}

func (c *Client) handleError(se *domain.SignalingError) {
	log.Warn().Str("module", "rendezvous").Str("kind", string(se.Kind)).Str("peer", string(se.PeerID)).Msg(se.Message)
	c.emit(core.SignalEvent{Kind: core.FatalError, PeerID: se.PeerID, Err: se})
	if se.Kind == domain.SignalingPeerUnavailable && se.PeerID != "" {
		for _, p := range c.connsOf(se.PeerID) {
			p.shutdown(false)
		}
	}
}

func (c *Client) handleNegotiation(t domain.SignalType, src domain.PeerID, p domain.SignalPayload) {
	logger := log.With().Str("module", "rendezvous").Str("type", string(t)).Str("src", string(src)).Str("conn", p.ConnectionID).Logger()
	if src == "" {
		logger.Warn().Msg("negotiation without source")
		return
	}

	switch t {
	case domain.SignalOffer:
		if p.SDP == nil || p.ConnectionID == "" {
			logger.Warn().Msg("offer without description")
			return
		}
		if c.lookup(p.ConnectionID) != nil {
			logger.Warn().Msg("renegotiation not supported, offer ignored")
			return
		}
		c.acceptOffer(src, p)
	case domain.SignalAnswer:
		pc := c.lookup(p.ConnectionID)
		if pc == nil || p.SDP == nil {
			logger.Debug().Msg("answer for unknown connection")
			return
		}
		if err := pc.rtc.ApplyAnswer(fromWireSDP(p.SDP)); err != nil {
			logger.Error().Err(err).Msg("apply answer")
			pc.shutdown(true)
		}
	case domain.SignalCandidate:
		pc := c.lookup(p.ConnectionID)
		if pc == nil || p.Candidate == nil {
			logger.Debug().Msg("candidate for unknown connection")
			return
		}
		if err := pc.rtc.AddICECandidate(fromWireCandidate(p.Candidate)); err != nil {
			logger.Warn().Err(err).Msg("add candidate")
		}
	case domain.SignalLeave:
		if p.ConnectionID != "" {
			if pc := c.lookup(p.ConnectionID); pc != nil {
				pc.shutdown(false)
			}
			return
		}
		for _, pc := range c.connsOf(src) {
			pc.shutdown(false)
		}
	}
}

func (c *Client) acceptOffer(src domain.PeerID, p domain.SignalPayload) {
	logger := log.With().Str("module", "rendezvous").Str("src", string(src)).Str("conn", p.ConnectionID).Logger()
	switch p.Kind {
	case domain.ChannelMedia:
		mc, err := c.newMediaChannel(p.ConnectionID, src)
		if err != nil {
			logger.Error().Err(err).Msg("inbound media")
			return
		}
		offer := fromWireSDP(p.SDP)
		mc.mu.Lock()
		mc.offer = &offer
		mc.mu.Unlock()
		logger.Info().Msg("inbound call")
		c.emit(core.SignalEvent{Kind: core.InboundMedia, PeerID: src, Media: mc})
	case domain.ChannelData:
		dc, err := c.newDataChannel(p.ConnectionID, src)
		if err != nil {
			logger.Error().Err(err).Msg("inbound data")
			return
		}
		logger.Info().Msg("inbound data connection")
		c.emit(core.SignalEvent{Kind: core.InboundData, PeerID: src, Data: dc})
		if err := dc.accept(fromWireSDP(p.SDP)); err != nil {
			logger.Error().Err(err).Msg("answer data offer")
			dc.shutdown(true)
		}
	default:
		logger.Warn().Str("kind", string(p.Kind)).Msg("offer of unknown kind")
	}
}
