package rendezvous

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
)

var ErrNotOpen = errors.New("data channel not open")

const dataLabel = "meshroom"

type dataChannel struct {
	*peerConn

	mu sync.Mutex
	dc *webrtc.DataChannel
}

var _ core.DataChannel = (*dataChannel)(nil)

func (c *Client) newDataChannel(id string, peer domain.PeerID) (*dataChannel, error) {
	pc := newPeerConn(c, id, peer, domain.ChannelData)
	d := &dataChannel{peerConn: pc}

	wc, err := c.newConnection(pc)
	if err != nil {
		return nil, err
	}
	pc.rtc = wc

	wc.OnDataChannel(d.bind)
	wc.OnClosed(func() {
		c.forget(id)
		pc.emit(core.ChannelEvent{Kind: core.ChannelClose})
	})
	if err := wc.Start(c.ctx); err != nil {
		wc.Close()
		return nil, err
	}
	return d, nil
}

// bind attaches the negotiated channel, whichever side created it.
func (d *dataChannel) bind(ch *webrtc.DataChannel) {
	d.mu.Lock()
	if d.dc != nil {
		d.mu.Unlock()
		d.logger.Warn().Str("label", ch.Label()).Msg("extra data channel ignored")
		return
	}
	d.dc = ch
	d.mu.Unlock()

	ch.OnOpen(func() {
		d.emit(core.ChannelEvent{Kind: core.ChannelOpen})
	})
	ch.OnMessage(func(msg webrtc.DataChannelMessage) {
		data, err := domain.DecodeDataConnData(msg.Data)
		if err != nil {
			d.logger.Warn().Err(err).Msg("bad data message")
			return
		}
		d.emit(core.ChannelEvent{Kind: core.ChannelData, Data: data})
	})
	ch.OnError(func(err error) {
		d.emit(core.ChannelEvent{Kind: core.ChannelError, Err: err})
	})
	ch.OnClose(func() {
		d.shutdown(false)
	})
}

// open creates the channel and sends the offer.
func (d *dataChannel) open() error {
	ch, err := d.rtc.CreateDataChannel(dataLabel)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	d.bind(ch)
	offer, err := d.rtc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	d.describe(domain.SignalOffer, domain.SignalPayload{Label: dataLabel, SDP: toWireSDP(offer)})
	return nil
}

// accept answers an inbound data offer right away.
func (d *dataChannel) accept(offer webrtc.SessionDescription) error {
	answer, err := d.rtc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	d.describe(domain.SignalAnswer, domain.SignalPayload{SDP: toWireSDP(answer)})
	return nil
}

func (d *dataChannel) Send(msg domain.DataConnData) error {
	d.mu.Lock()
	ch := d.dc
	d.mu.Unlock()
	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	b, err := domain.EncodeDataConnData(msg)
	if err != nil {
		return err
	}
	return ch.SendText(string(b))
}

func (d *dataChannel) Close() error {
	d.shutdown(true)
	return nil
}
