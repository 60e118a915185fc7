// Package rendezvous is the client side of the signaling server: it keeps one
// websocket to the server and negotiates a media and a data PeerConnection per
// remote peer over it.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/adapters/rtc"
	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

var (
	ErrBackpressure = errors.New("signal send buffer full")
	ErrNotConnected = errors.New("signaling not connected")
	ErrClosed       = errors.New("signaling closed")
)

const (
	DefaultPingPeriod = 20 * time.Second
	DefaultSendBuffer = 64
	openTimeout       = 10 * time.Second
	writeWait         = 5 * time.Second
)

type Config struct {
	// URL of the websocket endpoint, e.g. ws://localhost:8080/api/ws/signal.
	URL        string
	ICEServers []string
	PingPeriod time.Duration
	SendBuffer int
}

// Client implements core.Signaling.
type Client struct {
	cfg  Config
	api  *webrtc.API
	wcfg webrtc.Configuration

	ctx    context.Context
	cancel context.CancelFunc

	events chan core.SignalEvent

	mu     sync.Mutex
	ws     *websocket.Conn
	send   chan []byte
	id     domain.PeerID
	conns  map[string]*peerConn
	closed bool

	closeOnce sync.Once
}

var _ core.Signaling = (*Client)(nil)

func New(cfg Config, api *webrtc.API) *Client {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		api:    api,
		wcfg:   rtc.DefaultWebRTCConfig(cfg.ICEServers),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan core.SignalEvent, 64),
		conns:  make(map[string]*peerConn),
	}
}

func (c *Client) Events() <-chan core.SignalEvent { return c.events }

func (c *Client) ID() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Open registers with the server, asking for want when it is set. If want is
// taken the server is asked again for a fresh id. The accepted id is returned
// and also reported as a ServerConnected event.
func (c *Client) Open(ctx context.Context, want domain.PeerID) (domain.PeerID, error) {
	ws, id, err := c.dial(ctx, want)
	var se *domain.SignalingError
	if errors.As(err, &se) && se.Kind == domain.SignalingIDTaken && want != "" {
		log.Warn().Str("module", "rendezvous").Str("peer", string(want)).Msg("id taken, asking for a new one")
		ws, id, err = c.dial(ctx, "")
	}
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return "", ErrClosed
	}
	c.ws = ws
	c.id = id
	c.send = make(chan []byte, c.cfg.SendBuffer)
	send := c.send
	c.mu.Unlock()

	log.Info().Str("module", "rendezvous").Str("peer", string(id)).Msg("registered")
	// queued before readPump starts: readPump owns c.events from here on
	c.emit(core.SignalEvent{Kind: core.ServerConnected, PeerID: id})

	go c.writePump(ws, send)
	go c.readPump(ws)
	return id, nil
}

func (c *Client) dial(ctx context.Context, want domain.PeerID) (*websocket.Conn, domain.PeerID, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, "", fmt.Errorf("signal url: %w", err)
	}
	if want != "" {
		q := u.Query()
		q.Set("id", string(want))
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, "", &domain.SignalingError{Kind: domain.SignalingTransportLost, Message: err.Error()}
	}

	_ = ws.SetReadDeadline(time.Now().Add(openTimeout))
	var env domain.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		_ = ws.Close()
		return nil, "", &domain.SignalingError{Kind: domain.SignalingTransportLost, Message: err.Error()}
	}
	_ = ws.SetReadDeadline(time.Time{})

	switch env.Type {
	case domain.SignalOpen:
		var p domain.OpenPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.PeerID.Validate() != nil {
			_ = ws.Close()
			return nil, "", &domain.SignalingError{Kind: domain.SignalingBadPayload, Message: "bad open frame"}
		}
		return ws, p.PeerID, nil
	case domain.SignalIDTaken:
		_ = ws.Close()
		return nil, "", &domain.SignalingError{Kind: domain.SignalingIDTaken, PeerID: want, Message: "id taken"}
	case domain.SignalError:
		_ = ws.Close()
		var p domain.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		return nil, "", domain.SignalingErrorFromPayload(p)
	default:
		_ = ws.Close()
		return nil, "", &domain.SignalingError{Kind: domain.SignalingBadPayload, Message: "unexpected " + string(env.Type)}
	}
}

func (c *Client) CallPeer(remote domain.PeerID, local *media.Stream) (core.MediaChannel, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	mc, err := c.newMediaChannel("mc_"+uuid.NewString(), remote)
	if err != nil {
		return nil, err
	}
	if err := mc.call(local); err != nil {
		mc.shutdown(false)
		return nil, err
	}
	return mc, nil
}

func (c *Client) ConnectData(remote domain.PeerID) (core.DataChannel, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	dc, err := c.newDataChannel("dc_"+uuid.NewString(), remote)
	if err != nil {
		return nil, err
	}
	if err := dc.open(); err != nil {
		dc.shutdown(false)
		return nil, err
	}
	return dc, nil
}

// Close tells every connected peer we are leaving and drops the server socket.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		for _, p := range c.snapshot() {
			p.shutdown(true)
		}
		c.mu.Lock()
		c.closed = true
		ws := c.ws
		if c.send != nil {
			close(c.send)
			c.send = nil
		}
		c.mu.Unlock()

		c.cancel()
		if ws != nil {
			_ = ws.Close()
		} else {
			close(c.events)
		}
	})
	return nil
}

func (c *Client) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.ws == nil {
		return ErrNotConnected
	}
	return nil
}

// newConnection builds the PeerConnection for p and registers p for routing.
func (c *Client) newConnection(p *peerConn) (*rtc.WebRTCConnection, error) {
	wc, err := rtc.NewWebRTCConnection(c.api, c.wcfg, p.peer, p.id)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		p.candidate(toWireCandidate(ci))
	})
	c.mu.Lock()
	c.conns[p.id] = p
	c.mu.Unlock()
	return wc, nil
}

func (c *Client) lookup(id string) *peerConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[id]
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.conns, id)
	c.mu.Unlock()
}

func (c *Client) snapshot() []*peerConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*peerConn, 0, len(c.conns))
	for _, p := range c.conns {
		out = append(out, p)
	}
	return out
}

func (c *Client) connsOf(peer domain.PeerID) []*peerConn {
	var out []*peerConn
	for _, p := range c.snapshot() {
		if p.peer == peer {
			out = append(out, p)
		}
	}
	return out
}

func (c *Client) sendSignal(t domain.SignalType, dst domain.PeerID, payload any) error {
	env, err := domain.NewEnvelope(t, dst, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		if c.closed {
			return ErrClosed
		}
		return ErrNotConnected
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) emit(ev core.SignalEvent) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}
