package mesh

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

func (m *Manager) handleSignal(ev core.SignalEvent) {
	logger := log.With().Str("module", "mesh").Str("event", ev.Kind.String()).Str("peer", string(ev.PeerID)).Logger()
	switch ev.Kind {
	case core.ServerConnected:
		m.identity.PeerID = ev.PeerID
		m.persistIdentity()
		logger.Info().Msg("signaling connected")
		if cb := m.opts.Callbacks.ServerConnected; cb != nil {
			cb(ev.PeerID)
		}
	case core.ServerDisconnected:
		logger.Warn().Msg("signaling disconnected")
		m.clearIdentity()
	case core.InboundMedia:
		m.onInboundMedia(ev.PeerID, ev.Media)
	case core.InboundData:
		m.onInboundData(ev.PeerID, ev.Data)
	case core.FatalError:
		m.onFatal(ev.Err)
	}
}

func (m *Manager) onInboundMedia(remote domain.PeerID, mc core.MediaChannel) {
	if mc == nil {
		return
	}
	if remote == m.identity.PeerID {
		_ = mc.Close()
		return
	}
	s := m.activate(remote)
	// A caller drops its previous media and data pair before calling again, and its
	// data offer always follows the media one. Releasing both here keeps a late close
	// of the old data channel from tearing down the call being answered.
	m.releaseChannels(s)
	m.adoptMedia(s, mc)
	if err := mc.Answer(m.local); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(remote)).Msg("answer failed")
		return
	}
	log.Info().Str("module", "mesh").Str("peer", string(remote)).Str("media", mc.ID()).Msg("answered call")
}

func (m *Manager) onInboundData(remote domain.PeerID, dc core.DataChannel) {
	if dc == nil {
		return
	}
	if remote == m.identity.PeerID {
		_ = dc.Close()
		return
	}
	s := m.activate(remote)
	if s.data != nil {
		_ = s.data.Close()
		s.data = nil
	}
	m.adoptData(s, dc, false)
	log.Info().Str("module", "mesh").Str("peer", string(remote)).Str("data", dc.ID()).Msg("accepted data channel")
}

func (m *Manager) onFatal(err *domain.SignalingError) {
	if err == nil {
		return
	}
	logger := log.With().Str("module", "mesh").Str("kind", string(err.Kind)).Str("peer", string(err.PeerID)).Logger()
	logger.Warn().Msg(err.Message)
	if err.Kind != domain.SignalingPeerUnavailable || err.PeerID == "" {
		return
	}
	if cb := m.opts.Callbacks.PeerUnavailable; cb != nil {
		cb(err.PeerID)
	}
	s, ok := m.sessions[err.PeerID]
	if !ok || s.self {
		return
	}
	m.closeSession(s, "peer unavailable")
	m.remove(s)
}

func (m *Manager) adoptMedia(s *session, mc core.MediaChannel) {
	s.media = mc
	id := mc.ID()
	peer := s.peer
	m.pump(mc.Events(), func(ev core.ChannelEvent) { m.onMediaEvent(peer, id, ev) })
}

func (m *Manager) adoptData(s *session, dc core.DataChannel, outbound bool) {
	s.data = dc
	s.dataOutbound = outbound
	id := dc.ID()
	peer := s.peer
	m.pump(dc.Events(), func(ev core.ChannelEvent) { m.onDataEvent(peer, id, ev) })
}

func (m *Manager) onMediaEvent(peer domain.PeerID, id string, ev core.ChannelEvent) {
	s, ok := m.sessions[peer]
	if !ok || s.media == nil || s.media.ID() != id {
		// the channel was replaced or released
		if ev.Kind == core.ChannelStream && ev.Stream != nil {
			ev.Stream.Stop()
		}
		return
	}
	logger := log.With().Str("module", "mesh").Str("peer", string(peer)).Str("media", id).Logger()
	switch ev.Kind {
	case core.ChannelOpen:
		m.markOpen(s)
	case core.ChannelStream:
		if s.remote != nil && s.remote != ev.Stream {
			s.remote.Stop()
		}
		s.remote = ev.Stream
		m.markOpen(s)
		logger.Info().Msg("remote stream arrived")
	case core.ChannelClose:
		m.closeSession(s, "media closed")
	case core.ChannelError:
		logger.Warn().Err(&domain.ChannelError{Kind: domain.ChannelMedia, PeerID: peer, Err: ev.Err}).Msg("media channel error")
	}
}

func (m *Manager) onDataEvent(peer domain.PeerID, id string, ev core.ChannelEvent) {
	s, ok := m.sessions[peer]
	if !ok || s.data == nil || s.data.ID() != id {
		return
	}
	logger := log.With().Str("module", "mesh").Str("peer", string(peer)).Str("data", id).Logger()
	switch ev.Kind {
	case core.ChannelOpen:
		m.markOpen(s)
		m.greet(s)
	case core.ChannelData:
		m.onData(s, ev.Data)
	case core.ChannelClose:
		m.closeSession(s, "data closed")
	case core.ChannelError:
		logger.Warn().Err(&domain.ChannelError{Kind: domain.ChannelData, PeerID: peer, Err: ev.Err}).Msg("data channel error")
	}
}

// greet starts the name handshake. The side that opened the channel asks for the
// remote name; the accepting side announces its own.
func (m *Manager) greet(s *session) {
	if s.dataOutbound {
		m.send(s, domain.MessageRequestDisplayName, m.identity.DisplayName)
		return
	}
	m.send(s, domain.MessageSendDisplayName, m.identity.DisplayName)
	if m.opts.ConnectNotice != "" {
		msg := m.send(s, domain.MessageText, m.opts.ConnectNotice)
		m.appendMessage(msg)
	}
}

func (m *Manager) onData(s *session, msg domain.DataConnData) {
	switch msg.Type {
	case domain.MessageRequestDisplayName:
		s.displayName = domain.ClampDisplayName(msg.Message)
		m.send(s, domain.MessageSendDisplayName, m.identity.DisplayName)
	case domain.MessageSendDisplayName:
		s.displayName = domain.ClampDisplayName(msg.Message)
	case domain.MessageText:
		m.appendMessage(msg)
	}
}

func (m *Manager) send(s *session, t domain.MessageType, text string) domain.DataConnData {
	msg := domain.DataConnData{Type: t, SenderPeerID: m.identity.PeerID, Message: text}
	if s.data == nil {
		return msg
	}
	if err := s.data.Send(msg); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(s.peer)).Str("type", string(t)).Msg("send failed")
	}
	return msg
}

func (m *Manager) appendMessage(msg domain.DataConnData) {
	m.messages = append(m.messages, msg)
	if cb := m.opts.Callbacks.MessageAppended; cb != nil {
		cb(msg)
	}
}

func (m *Manager) markOpen(s *session) {
	if s.state == StateConnecting {
		s.state = StateOpen
	}
	if !s.reached && s.state == StateOpen {
		s.reached = true
		if cb := m.opts.Callbacks.PeerReached; cb != nil {
			cb(s.peer)
		}
	}
}

// closeSession moves s to Closing and starts its grace timer. Sessions already
// closing, removed, or the self-session are left alone.
func (m *Manager) closeSession(s *session, reason string) {
	if s.self || s.state == StateClosing || s.state == StateRemoved {
		return
	}
	m.releaseChannels(s)
	s.state = StateClosing
	m.armGrace(s)
	log.Info().Str("module", "mesh").Str("peer", string(s.peer)).Str("reason", reason).Msg("session closing")
	if cb := m.opts.Callbacks.SessionClosed; cb != nil {
		cb(s.peer)
	}
}

func (m *Manager) releaseChannels(s *session) {
	if s.remote != nil {
		s.remote.Stop()
		s.remote = nil
	}
	if s.data != nil {
		if err := s.data.Close(); err != nil {
			log.Debug().Err(err).Str("module", "mesh").Str("peer", string(s.peer)).Msg("data close")
		}
		s.data = nil
	}
	if s.media != nil {
		if err := s.media.Close(); err != nil {
			log.Debug().Err(err).Str("module", "mesh").Str("peer", string(s.peer)).Msg("media close")
		}
		s.media = nil
	}
}

func (m *Manager) persistIdentity() {
	if m.opts.Store == nil || m.identity.PeerID == "" {
		return
	}
	if err := m.opts.Store.Save(m.identity); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("persist identity")
	}
}

func (m *Manager) clearIdentity() {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.Clear(); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Msg("clear identity")
	}
}
