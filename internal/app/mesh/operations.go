package mesh

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/app/roster"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

// ConnectMedia opens media and data channels to remote. Connecting to ourselves
// creates the self-session, which mirrors the local stream and has no channels.
func (m *Manager) ConnectMedia(remote domain.PeerID, displayName string) error {
	if err := remote.Validate(); err != nil {
		return fmt.Errorf("connect %q: %w", remote, err)
	}
	var opErr error
	err := m.do(func() { opErr = m.connectMedia(remote, displayName) })
	if err != nil {
		return err
	}
	return opErr
}

func (m *Manager) connectMedia(remote domain.PeerID, displayName string) error {
	if remote == m.identity.PeerID {
		m.ensureSelf(displayName)
		return nil
	}

	s := m.activate(remote)
	if displayName != "" {
		s.displayName = domain.ClampDisplayName(displayName)
	}
	m.releaseChannels(s)

	logger := log.With().Str("module", "mesh").Str("peer", string(remote)).Logger()

	mc, err := m.sig.CallPeer(remote, m.local)
	if err != nil {
		logger.Warn().Err(err).Msg("call failed")
		m.closeSession(s, "call failed")
		return &domain.ChannelError{Kind: domain.ChannelMedia, PeerID: remote, Err: err}
	}
	m.adoptMedia(s, mc)

	dc, err := m.sig.ConnectData(remote)
	if err != nil {
		logger.Warn().Err(err).Msg("data connect failed")
		m.closeSession(s, "data connect failed")
		return &domain.ChannelError{Kind: domain.ChannelData, PeerID: remote, Err: err}
	}
	m.adoptData(s, dc, true)

	logger.Info().Str("media", mc.ID()).Str("data", dc.ID()).Msg("connecting")
	return nil
}

func (m *Manager) ensureSelf(displayName string) {
	s, ok := m.sessions[m.identity.PeerID]
	if !ok {
		s = &session{peer: m.identity.PeerID, self: true}
		m.sessions[s.peer] = s
	}
	s.self = true
	s.state = StateOpen
	s.displayName = m.identity.DisplayName
	if displayName != "" {
		s.displayName = domain.ClampDisplayName(displayName)
	}
}

// activate returns the session for remote in Connecting, creating it or pulling it
// back from Closing.
func (m *Manager) activate(remote domain.PeerID) *session {
	s, ok := m.sessions[remote]
	if !ok {
		s = &session{peer: remote, state: StateConnecting}
		m.sessions[remote] = s
		return s
	}
	if s.state == StateClosing {
		m.cancelGrace(s)
		s.state = StateConnecting
		s.reached = false
		log.Info().Str("module", "mesh").Str("peer", string(remote)).Msg("session revived before removal")
	}
	return s
}

// DisconnectMedia tears down every session except the self-session.
func (m *Manager) DisconnectMedia() error {
	return m.do(func() {
		for _, s := range m.sortedSessions() {
			m.closeSession(s, "disconnect")
		}
	})
}

// CheckMedias tears down sessions whose peer the room service no longer reports.
func (m *Manager) CheckMedias(attenders []domain.Attender) error {
	return m.do(func() {
		live := make([]domain.PeerID, 0, len(m.sessions))
		for id := range m.sessions {
			live = append(live, id)
		}
		plan := roster.Reconcile(live, m.identity.PeerID, attenders)
		for _, id := range plan.Orphans {
			if s, ok := m.sessions[id]; ok {
				m.closeSession(s, "absent from roster")
			}
		}
		if len(plan.Orphans) > 0 {
			log.Info().Str("module", "mesh").Int("orphans", len(plan.Orphans)).Msg("roster reconciled")
		}
	})
}

// SendDataAll broadcasts text to every remote session and logs it once locally.
func (m *Manager) SendDataAll(text string) error {
	return m.do(func() {
		msg := domain.DataConnData{
			Type:         domain.MessageText,
			SenderPeerID: m.identity.PeerID,
			Message:      text,
		}
		for _, s := range m.sortedSessions() {
			if s.self || s.data == nil {
				continue
			}
			if err := s.data.Send(msg); err != nil {
				log.Warn().Err(err).Str("module", "mesh").Str("peer", string(s.peer)).Msg("send message failed")
			}
		}
		m.appendMessage(msg)
	})
}

func (m *Manager) ReplaceVideoTrack(t *media.LocalTrack) error {
	return m.replaceTrack(media.KindVideo, t)
}

func (m *Manager) ReplaceAudioTrack(t *media.LocalTrack) error {
	return m.replaceTrack(media.KindAudio, t)
}

func (m *Manager) replaceTrack(kind media.Kind, t *media.LocalTrack) error {
	if t == nil || t.Kind() != kind {
		return fmt.Errorf("replace %s track: wrong or missing track", kind)
	}
	var errs []error
	err := m.do(func() {
		for _, s := range m.sortedSessions() {
			if s.self || s.media == nil {
				continue
			}
			if err := s.media.ReplaceTrack(t); err != nil {
				errs = append(errs, &domain.ChannelError{Kind: domain.ChannelMedia, PeerID: s.peer, Err: err})
			}
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// SetTrackEnabled mutes or unmutes the local tracks of kind. Every channel sends
// the same track objects, so this reaches all of them at once.
func (m *Manager) SetTrackEnabled(kind media.Kind, enabled bool) error {
	return m.do(func() {
		if !m.local.SetEnabled(kind, enabled) {
			log.Warn().Str("module", "mesh").Str("kind", string(kind)).Msg("no local track to toggle")
		}
	})
}

// SetDisplayName changes the local name used in future handshakes.
func (m *Manager) SetDisplayName(name string) error {
	var opErr error
	err := m.do(func() {
		opErr = m.identity.SetDisplayName(name)
		if opErr != nil {
			return
		}
		if s, ok := m.sessions[m.identity.PeerID]; ok {
			s.displayName = m.identity.DisplayName
		}
		m.persistIdentity()
	})
	if err != nil {
		return err
	}
	return opErr
}

func (m *Manager) Identity() domain.LocalIdentity {
	var id domain.LocalIdentity
	if err := m.do(func() { id = m.identity }); err != nil {
		return domain.LocalIdentity{}
	}
	return id
}

// Sessions returns a snapshot ordered by peer id.
func (m *Manager) Sessions() []SessionView {
	var out []SessionView
	_ = m.do(func() {
		for _, s := range m.sortedSessions() {
			out = append(out, m.view(s))
		}
	})
	return out
}

func (m *Manager) Messages() []domain.DataConnData {
	var out []domain.DataConnData
	_ = m.do(func() { out = slices.Clone(m.messages) })
	return out
}

// Destroy drops every connection, closes signaling and forgets the persisted identity.
func (m *Manager) Destroy() error {
	return m.do(func() {
		for _, s := range m.sortedSessions() {
			if s.self {
				m.remove(s)
				continue
			}
			m.closeSession(s, "destroy")
			m.remove(s)
		}
		if err := m.sig.Close(); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Msg("signaling close")
		}
		m.clearIdentity()
		m.identity.PeerID = ""
	})
}

func (m *Manager) sortedSessions() []*session {
	out := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *session) int {
		return strings.Compare(string(a.peer), string(b.peer))
	})
	return out
}
