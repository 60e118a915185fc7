// Package codec encodes composed frames to VP8 with ffmpeg and feeds the
// resulting samples into a local track.
package codec

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/dkeye/meshroom/internal/adapters/ffmpeg"
	"github.com/dkeye/meshroom/internal/app/pipeline"
	lmedia "github.com/dkeye/meshroom/internal/media"
)

const DefaultBitrate = "1M"

var ErrSinkClosed = errors.New("sink closed")

// SampleWriter is the part of a local track the encoder output goes to.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// VP8 is a pipeline.SinkFactory that starts one ffmpeg libvpx encoder per track.
type VP8 struct {
	FFmpeg  string
	Bitrate string
}

var _ pipeline.SinkFactory = (*VP8)(nil)

func (v *VP8) NewSink(track *lmedia.LocalTrack, f pipeline.Format) (pipeline.FrameSink, error) {
	proc, err := ffmpeg.Start(context.Background(), "vp8-"+track.ID(), v.FFmpeg, EncoderArgs(f, v.Bitrate), true)
	if err != nil {
		return nil, err
	}
	s := newSink(proc.Stdin(), f)
	s.stop = proc.Stop
	go func() {
		err := Pump(proc.Stdout(), track, f.FPS)
		if err != nil && !errors.Is(err, lmedia.ErrTrackStopped) {
			s.logger.Warn().Err(err).Str("stderr", proc.Stderr()).Msg("encoder output ended")
		}
	}()
	return s, nil
}

// EncoderArgs reads raw RGBA frames on stdin and writes VP8 in IVF on stdout.
func EncoderArgs(f pipeline.Format, bitrate string) []string {
	if bitrate == "" {
		bitrate = DefaultBitrate
	}
	size := fmt.Sprintf("%dx%d", f.Width, f.Height)
	fps := strconv.Itoa(f.FPS)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-s", size, "-r", fps, "-i", "pipe:0",
		"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8",
		"-b:v", bitrate, "-g", fps, "-auto-alt-ref", "0", "-error-resilient", "1",
		"-f", "ivf", "pipe:1",
	}
}

// Pump reads IVF frames from r and writes each one as a sample until r ends
// or the track is stopped.
func Pump(r io.Reader, w SampleWriter, fps int) error {
	ivf, _, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("ivf header: %w", err)
	}
	if fps <= 0 {
		fps = pipeline.DefaultFPS
	}
	d := time.Second / time.Duration(fps)
	for {
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := w.WriteSample(media.Sample{Data: frame, Duration: d}); err != nil {
			return err
		}
	}
}

// sink hands frames to the encoder's stdin. One frame may be in flight; a
// frame arriving while the encoder is busy is dropped.
type sink struct {
	f      pipeline.Format
	frames chan []byte
	done   chan struct{}
	stop   func() error
	logger zerolog.Logger

	mu      sync.Mutex
	closed  bool
	broken  atomic.Bool
	dropped atomic.Uint64
}

func newSink(w io.Writer, f pipeline.Format) *sink {
	s := &sink{
		f:      f,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
		logger: log.With().Str("module", "codec").Str("size", fmt.Sprintf("%dx%d", f.Width, f.Height)).Logger(),
	}
	go s.writeLoop(w)
	return s
}

func (s *sink) writeLoop(w io.Writer) {
	defer close(s.done)
	for b := range s.frames {
		if _, err := w.Write(b); err != nil {
			s.logger.Warn().Err(err).Msg("encoder input closed")
			s.broken.Store(true)
			for range s.frames {
			}
			return
		}
	}
}

func (s *sink) WriteFrame(img image.Image) error {
	if s.broken.Load() {
		return ErrSinkClosed
	}
	b := s.raw(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.frames <- b:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// raw returns img as tightly packed RGBA bytes of the sink's size. The buffer
// is fresh for each frame since the writer may still hold the previous one.
func (s *sink) raw(img image.Image) []byte {
	rect := image.Rect(0, 0, s.f.Width, s.f.Height)
	if m, ok := img.(*image.RGBA); ok && m.Rect == rect && m.Stride == 4*s.f.Width {
		return m.Pix
	}
	dst := image.NewRGBA(rect)
	if img.Bounds().Size() == rect.Size() {
		draw.Draw(dst, rect, img, img.Bounds().Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, rect, img, img.Bounds(), draw.Src, nil)
	}
	return dst.Pix
}

func (s *sink) Dropped() uint64 { return s.dropped.Load() }

func (s *sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	<-s.done
	if n := s.dropped.Load(); n > 0 {
		s.logger.Debug().Uint64("dropped", n).Msg("sink closed")
	}
	if s.stop != nil {
		return s.stop()
	}
	return nil
}
