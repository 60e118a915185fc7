// Package media holds the local composited stream and the remote stream fan-out.
package media

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

var ErrTrackStopped = errors.New("track stopped")

func (k Kind) Codec() webrtc.RTPCodecCapability {
	if k == KindAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (k Kind) CodecType() webrtc.RTPCodecType {
	if k == KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func KindOf(t webrtc.RTPCodecType) Kind {
	if t == webrtc.RTPCodecTypeAudio {
		return KindAudio
	}
	return KindVideo
}

// LocalTrack is one sample-fed track that can be attached to many peer connections.
// A disabled track drops samples instead of detaching from the senders.
type LocalTrack struct {
	kind    Kind
	sample  *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

func NewLocalTrack(kind Kind, streamID string) (*LocalTrack, error) {
	id := fmt.Sprintf("%s-%s", kind, uuid.NewString())
	s, err := webrtc.NewTrackLocalStaticSample(kind.Codec(), id, streamID)
	if err != nil {
		return nil, fmt.Errorf("new %s track: %w", kind, err)
	}
	t := &LocalTrack{kind: kind, sample: s}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string    { return t.sample.ID() }
func (t *LocalTrack) Kind() Kind    { return t.kind }
func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }
func (t *LocalTrack) Stopped() bool { return t.stopped.Load() }

func (t *LocalTrack) SetEnabled(v bool) { t.enabled.Store(v) }

// Stop is final; the writer feeding this track should exit on ErrTrackStopped.
func (t *LocalTrack) Stop() { t.stopped.Store(true) }

// TrackLocal is what gets handed to RTPSender.AddTrack / ReplaceTrack.
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.sample }

func (t *LocalTrack) WriteSample(s pmedia.Sample) error {
	if t.stopped.Load() {
		return ErrTrackStopped
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.sample.WriteSample(s)
}
