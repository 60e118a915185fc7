package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

var ErrNoSender = errors.New("no sender for track kind")

// WebRTCConnection wraps one PeerConnection to one remote peer. Remote ICE candidates
// that arrive before the remote description are queued.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	peer   domain.PeerID
	connID string
	cancel context.CancelFunc

	onICE         func(webrtc.ICECandidateInit)
	onTrack       func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onConnected   func()
	onClosed      func()
	onDataChannel func(*webrtc.DataChannel)

	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	senders   map[media.Kind]*webrtc.RTPSender

	connectedOnce sync.Once
	closedOnce    sync.Once
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, peer domain.PeerID, connID string) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{
		pc:      pc,
		peer:    peer,
		connID:  connID,
		senders: make(map[media.Kind]*webrtc.RTPSender),
	}, nil
}

// Start installs the PeerConnection handlers. Callbacks must be set before.
func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	logger := log.With().Str("module", "rtc").Str("peer", string(c.peer)).Str("conn", c.connID).Logger()

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.connectedOnce.Do(func() {
				if c.onConnected != nil {
					c.onConnected()
				}
			})
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.fireClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(ctx, track, receiver)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Info().Str("label", dc.Label()).Msg("OnDataChannel received")
		if c.onDataChannel != nil {
			c.onDataChannel(dc)
		}
	})

	return nil
}

// CreateOffer sets and returns the local offer. Candidates trickle via OnICECandidate.
func (c *WebRTCConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.setRemote(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.setRemote(answer)
}

func (c *WebRTCConnection) setRemote(sd webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("conn", c.connID).Msg("add queued candidate")
		}
	}
	return nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

// AddLocalTrack attaches t and drains RTCP from its sender so interceptors keep working.
func (c *WebRTCConnection) AddLocalTrack(t *media.LocalTrack) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(t.TrackLocal())
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.senders[t.Kind()] = sender
	c.mu.Unlock()

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

// AddRecvOnly offers kind without sending anything on it.
func (c *WebRTCConnection) AddRecvOnly(kind media.Kind) error {
	_, err := c.pc.AddTransceiverFromKind(kind.CodecType(), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

// ReplaceTrack swaps the outgoing track of t's kind without renegotiation.
func (c *WebRTCConnection) ReplaceTrack(t *media.LocalTrack) error {
	c.mu.Lock()
	sender, ok := c.senders[t.Kind()]
	c.mu.Unlock()
	if !ok {
		return ErrNoSender
	}
	return sender.ReplaceTrack(t.TrackLocal())
}

func (c *WebRTCConnection) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	ordered := true
	return c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
}

func (c *WebRTCConnection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("conn", c.connID).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("conn", c.connID).Msg("closed")
		}
	}
	c.fireClosed()
}

func (c *WebRTCConnection) fireClosed() {
	c.closedOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

func (c *WebRTCConnection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

func (c *WebRTCConnection) OnConnected(fn func()) { c.onConnected = fn }

// OnClosed fires once, on failure, remote close or Close.
func (c *WebRTCConnection) OnClosed(fn func()) { c.onClosed = fn }

func (c *WebRTCConnection) OnDataChannel(fn func(*webrtc.DataChannel)) { c.onDataChannel = fn }
