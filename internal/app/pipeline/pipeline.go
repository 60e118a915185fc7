package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

const DefaultFPS = 30

var ErrNotVirtual = errors.New("virtual background not active")

type Config struct {
	Cameras CameraOpener
	Sinks   SinkFactory
	// LoadSegmenter initializes the person segmentation model. Defaults to LoadMotionSegmenter.
	LoadSegmenter func() (Segmenter, error)
	// LoadImage reads a background image. Defaults to imaging.Open.
	LoadImage func(path string) (image.Image, error)
	FPS       int
}

// Pipeline owns the active video source and feeds the video track of out.
type Pipeline struct {
	out *media.Stream
	cfg Config

	mu     sync.Mutex
	active *source
}

// source is one running mode with everything it holds.
type source struct {
	mode  Mode
	opts  Options
	cam   Camera
	model Segmenter
	sink  FrameSink
	track *media.LocalTrack
	bg    atomic.Pointer[image.NRGBA]
	still *image.RGBA

	bgMu   sync.Mutex
	bgWant uint64 // sequence of the latest requested background

	cancel context.CancelFunc
	done   chan struct{}
	frames atomic.Uint64
}

func New(out *media.Stream, cfg Config) *Pipeline {
	if cfg.LoadSegmenter == nil {
		cfg.LoadSegmenter = LoadMotionSegmenter
	}
	if cfg.LoadImage == nil {
		cfg.LoadImage = func(path string) (image.Image, error) { return imaging.Open(path) }
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &Pipeline{out: out, cfg: cfg}
}

// Mode reports the active mode and its options.
func (p *Pipeline) Mode() (Mode, Options, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return "", Options{}, false
	}
	return p.active.mode, p.active.opts, true
}

// Frames counts frames the active mode has handed to its sink.
func (p *Pipeline) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return 0
	}
	return p.active.frames.Load()
}

// Activate builds mode, swaps its track into the output stream and then stops
// the previous mode. On error the previous mode keeps running untouched.
// A camera or model with matching settings is handed over instead of reopened.
func (p *Pipeline) Activate(ctx context.Context, mode Mode, opts Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := log.With().Str("module", "pipeline").Str("mode", string(mode)).Logger()
	prev := p.active
	next := &source{mode: mode, opts: opts, done: make(chan struct{})}
	var tookCam, tookModel bool

	release := func() {
		if next.cam != nil && !tookCam {
			_ = next.cam.Close()
		}
		if next.model != nil && !tookModel {
			_ = next.model.Close()
		}
		if next.sink != nil {
			_ = next.sink.Close()
		}
		if next.track != nil {
			next.track.Stop()
		}
	}

	format := Format{Width: AltTextWidth, Height: AltTextHeight, FPS: p.fps(opts)}
	if mode.usesCamera() {
		if opts.Camera.Empty() {
			return &domain.DeviceError{Kind: domain.DeviceEmptyConstraints}
		}
		if prev != nil && prev.cam != nil && prev.opts.Camera == opts.Camera {
			next.cam, tookCam = prev.cam, true
		} else {
			cam, err := p.cfg.Cameras.Open(ctx, opts.Camera)
			if err != nil {
				return classifyDevice(opts.Camera.DeviceID, err)
			}
			next.cam = cam
		}
		format.Width, format.Height = next.cam.Size()
	} else {
		still, err := RenderText(opts.Text, format.Width, format.Height)
		if err != nil {
			return fmt.Errorf("render text: %w", err)
		}
		next.still = still
	}

	if mode.usesModel() {
		if prev != nil && prev.model != nil {
			next.model, tookModel = prev.model, true
		} else {
			m, err := p.cfg.LoadSegmenter()
			if err != nil {
				release()
				return &domain.ModelLoadError{Err: err}
			}
			next.model = m
		}
	}

	track, err := media.NewLocalTrack(media.KindVideo, p.out.ID())
	if err != nil {
		release()
		return err
	}
	next.track = track
	sink, err := p.cfg.Sinks.NewSink(track, format)
	if err != nil {
		release()
		return fmt.Errorf("video sink: %w", err)
	}
	next.sink = sink

	if mode == ModeVirtualImage && opts.Background != "" {
		p.loadBackground(next, opts.Background, format)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	next.cancel = cancel
	go p.run(loopCtx, next, format, logger)

	p.out.ReplaceTrack(track)
	p.active = next
	logger.Info().Int("width", format.Width).Int("height", format.Height).Msg("mode active")

	if prev != nil {
		prev.stop(!tookCam, !tookModel)
	}
	return nil
}

// Deactivate stops the active mode and releases its devices.
func (p *Pipeline) Deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return
	}
	p.active.stop(true, true)
	log.Info().Str("module", "pipeline").Str("mode", string(p.active.mode)).Msg("deactivated")
	p.active = nil
}

// SetBackground swaps the VirtualImage background. Frames keep flowing with the
// old background (or none) until the new one has loaded.
func (p *Pipeline) SetBackground(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil || p.active.mode != ModeVirtualImage {
		return ErrNotVirtual
	}
	w, h := p.active.cam.Size()
	p.active.opts.Background = path
	p.loadBackground(p.active, path, Format{Width: w, Height: h})
	return nil
}

func (p *Pipeline) fps(opts Options) int {
	if opts.Camera.FrameRate > 0 {
		return opts.Camera.FrameRate
	}
	return p.cfg.FPS
}

// loadBackground fills the image to f in the background. Only the latest
// request may store its result; an older load that finishes late is dropped.
func (p *Pipeline) loadBackground(s *source, path string, f Format) {
	s.bgMu.Lock()
	s.bgWant++
	seq := s.bgWant
	s.bgMu.Unlock()

	go func() {
		img, err := p.cfg.LoadImage(path)
		if err != nil {
			log.Warn().Err(err).Str("module", "pipeline").Str("path", path).Msg("background load failed")
			return
		}
		filled := imaging.Fill(img, f.Width, f.Height, imaging.Center, imaging.Lanczos)

		s.bgMu.Lock()
		defer s.bgMu.Unlock()
		if seq != s.bgWant {
			log.Debug().Str("module", "pipeline").Str("path", path).Msg("stale background dropped")
			return
		}
		s.bg.Store(filled)
		log.Info().Str("module", "pipeline").Str("path", path).Msg("background loaded")
	}()
}

// run composes one frame right away, so a freshly swapped track is never
// empty, and then one per tick. A slow tick makes the ticker drop the ticks it
// missed; frames are never queued.
func (p *Pipeline) run(ctx context.Context, s *source, f Format, logger zerolog.Logger) {
	defer close(s.done)
	ticker := time.NewTicker(time.Second / time.Duration(f.FPS))
	defer ticker.Stop()

	failing := false
	step := func() bool {
		img, err := s.compose()
		if err == nil && img != nil {
			err = s.sink.WriteFrame(img)
			if errors.Is(err, media.ErrTrackStopped) {
				return false
			}
		}
		// log only when the loop starts or stops failing
		if err != nil && !failing {
			logger.Warn().Err(err).Msg("frame dropped")
		} else if err == nil && failing {
			logger.Info().Msg("frames flowing again")
		}
		failing = err != nil
		if err == nil && img != nil {
			s.frames.Add(1)
		}
		return true
	}

	if !step() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !step() {
			return
		}
	}
}

func (s *source) compose() (image.Image, error) {
	if s.mode == ModeAltText {
		return s.still, nil
	}
	frame, ok := s.cam.Frame()
	if !ok {
		return nil, nil
	}
	switch s.mode {
	case ModeBlur:
		mask, err := s.model.Segment(frame)
		if err != nil {
			return nil, err
		}
		return ComposeBlur(frame, mask), nil
	case ModeVirtualImage:
		bg := s.bg.Load()
		if bg == nil {
			return frame, nil
		}
		mask, err := s.model.Segment(frame)
		if err != nil {
			return nil, err
		}
		return ComposeVirtual(frame, mask, bg), nil
	}
	return frame, nil
}

// stop ends the loop, then releases the camera before the model and sink.
func (s *source) stop(closeCam, closeModel bool) {
	s.cancel()
	<-s.done
	if closeCam && s.cam != nil {
		if err := s.cam.Close(); err != nil {
			log.Warn().Err(err).Str("module", "pipeline").Msg("camera close")
		}
	}
	if closeModel && s.model != nil {
		_ = s.model.Close()
	}
	if err := s.sink.Close(); err != nil {
		log.Warn().Err(err).Str("module", "pipeline").Msg("sink close")
	}
	s.track.Stop()
}

func classifyDevice(device string, err error) error {
	var de *domain.DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &domain.DeviceError{Kind: domain.DeviceOther, Device: device, Err: err}
}
