// Package signal is the server end of the rendezvous websocket.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/app"
	"github.com/dkeye/meshroom/internal/app/orch"
	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

var ErrConnClosed = errors.New("connection closed")

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	Limiter    *RateLimiter
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{Orch: o, opts: opts}
}

type WsSignalConn struct {
	conn *websocket.Conn
	peer domain.PeerID
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) Peer() domain.PeerID { return c.peer }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return app.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and registers the socket under the id from
// ?id=, or a fresh one. A live id is refused with id-taken.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	want := domain.PeerID(c.Query("id"))
	if want != "" {
		if err := want.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	id := want
	if id == "" {
		id = domain.NewPeerID()
	}
	conn := &WsSignalConn{
		conn: ws,
		peer: id,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Orch.Register(conn, cancel); err != nil {
		cancel()
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("register refused")
		ctl.refuse(ws, id)
		return
	}
	log.Info().Str("module", "signal").Str("peer", string(id)).Msg("new WS connection")

	ctl.sendEnvelope(conn, domain.SignalOpen, domain.OpenPayload{PeerID: id})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

func (ctl *SignalWSController) refuse(ws *websocket.Conn, id domain.PeerID) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteJSON(domain.Envelope{Type: domain.SignalIDTaken, Dst: id})
	_ = ws.Close()
}
