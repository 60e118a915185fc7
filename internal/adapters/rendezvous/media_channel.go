package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshroom/internal/core"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

var (
	ErrNotInbound      = errors.New("answer on an outbound call")
	ErrAlreadyAnswered = errors.New("call already answered")
)

type mediaChannel struct {
	*peerConn

	mu       sync.Mutex
	remote   *media.RemoteStream
	offer    *webrtc.SessionDescription
	answered bool
}

var _ core.MediaChannel = (*mediaChannel)(nil)

func (c *Client) newMediaChannel(id string, peer domain.PeerID) (*mediaChannel, error) {
	pc := newPeerConn(c, id, peer, domain.ChannelMedia)
	mc := &mediaChannel{peerConn: pc}

	wc, err := c.newConnection(pc)
	if err != nil {
		return nil, err
	}
	pc.rtc = wc

	wc.OnConnected(func() { pc.emit(core.ChannelEvent{Kind: core.ChannelOpen}) })
	wc.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		mc.onTrack(ctx, track)
	})
	wc.OnClosed(func() {
		mc.mu.Lock()
		remote := mc.remote
		mc.mu.Unlock()
		if remote != nil {
			remote.Stop()
		}
		c.forget(id)
		pc.emit(core.ChannelEvent{Kind: core.ChannelClose})
	})
	if err := wc.Start(c.ctx); err != nil {
		wc.Close()
		return nil, err
	}
	return mc, nil
}

func (mc *mediaChannel) onTrack(ctx context.Context, track *webrtc.TrackRemote) {
	mc.mu.Lock()
	if mc.remote == nil {
		mc.remote = media.NewRemoteStream(ctx, mc.id)
	}
	remote := mc.remote
	mc.mu.Unlock()

	remote.AddTrack(track)
	mc.emit(core.ChannelEvent{Kind: core.ChannelStream, Stream: remote})
}

// call attaches local tracks and sends the offer. Kinds without a local track
// are still offered receive-only so the callee can answer with them.
func (mc *mediaChannel) call(local *media.Stream) error {
	if err := mc.attach(local, true); err != nil {
		return err
	}
	offer, err := mc.rtc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	mc.describe(domain.SignalOffer, domain.SignalPayload{SDP: toWireSDP(offer)})
	return nil
}

func (mc *mediaChannel) attach(local *media.Stream, offering bool) error {
	for _, k := range []media.Kind{media.KindVideo, media.KindAudio} {
		var t *media.LocalTrack
		if local != nil {
			t = local.Track(k)
		}
		if t == nil || t.Stopped() {
			if !offering {
				continue
			}
			if err := mc.rtc.AddRecvOnly(k); err != nil {
				return fmt.Errorf("add %s transceiver: %w", k, err)
			}
			continue
		}
		if _, err := mc.rtc.AddLocalTrack(t); err != nil {
			return fmt.Errorf("add %s track: %w", k, err)
		}
	}
	return nil
}

func (mc *mediaChannel) Answer(local *media.Stream) error {
	mc.mu.Lock()
	offer := mc.offer
	if offer == nil {
		mc.mu.Unlock()
		return ErrNotInbound
	}
	if mc.answered {
		mc.mu.Unlock()
		return ErrAlreadyAnswered
	}
	mc.answered = true
	mc.mu.Unlock()

	if err := mc.attach(local, false); err != nil {
		return err
	}
	answer, err := mc.rtc.ApplyOfferAndCreateAnswer(*offer)
	if err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	mc.describe(domain.SignalAnswer, domain.SignalPayload{SDP: toWireSDP(answer)})
	return nil
}

func (mc *mediaChannel) ReplaceTrack(t *media.LocalTrack) error {
	return mc.rtc.ReplaceTrack(t)
}

func (mc *mediaChannel) Close() error {
	mc.shutdown(true)
	return nil
}
