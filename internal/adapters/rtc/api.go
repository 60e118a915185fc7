package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNURLs is STUN only; there is no TURN relay fallback.
var DefaultSTUNURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun.l.google.com:5349",
	"stun:stun1.l.google.com:3478",
	"stun:stun1.l.google.com:5349",
	"stun:stun2.l.google.com:19302",
	"stun:stun2.l.google.com:5349",
	"stun:stun3.l.google.com:3478",
	"stun:stun3.l.google.com:5349",
	"stun:stun4.l.google.com:19302",
	"stun:stun4.l.google.com:5349",
}

const DefaultPLIInterval = 3 * time.Second

func DefaultWebRTCConfig(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = DefaultSTUNURLs
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: stunURLs,
			},
		},
	}
}

type APIOptions struct {
	PLIInterval time.Duration
	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host peers and tests.
	IncludeLoopback bool
}

// NewAPI builds a pion API with the default codecs (VP8, Opus, ...), the default
// NACK/RTCP interceptors and a periodic PLI so keyframes recover after loss.
func NewAPI(opts APIOptions) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	interval := opts.PLIInterval
	if interval <= 0 {
		interval = DefaultPLIInterval
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(interval))
	if err != nil {
		return nil, fmt.Errorf("pli interceptor: %w", err)
	}
	i.Add(pli)

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	), nil
}
