package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshroom/internal/media"
)

type fakeCamera struct {
	device string
	w, h   int
	frame  *image.RGBA
	closed atomic.Bool
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func (c *fakeCamera) Frame() (*image.RGBA, bool) {
	if c.closed.Load() {
		return nil, false
	}
	return c.frame, c.frame != nil
}
func (c *fakeCamera) Size() (int, int) { return c.w, c.h }
func (c *fakeCamera) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeOpener struct {
	mu     sync.Mutex
	opened []*fakeCamera
	fail   error
}

func (o *fakeOpener) Open(_ context.Context, c Constraints) (Camera, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return nil, o.fail
	}
	// a device can be held only once, like v4l2
	for _, cam := range o.opened {
		if cam.device == c.DeviceID && !cam.closed.Load() {
			return nil, errors.New("device busy")
		}
	}
	w, h := c.Width, c.Height
	if w == 0 {
		w, h = 64, 48
	}
	cam := &fakeCamera{device: c.DeviceID, w: w, h: h, frame: solid(w, h, color.RGBA{R: 200, A: 255})}
	o.opened = append(o.opened, cam)
	return cam, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened)
}

func (o *fakeOpener) last() *fakeCamera {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[len(o.opened)-1]
}

type fakeSink struct {
	track  *media.LocalTrack
	format Format

	mu     sync.Mutex
	frames []image.Image
	times  []time.Time
	closed bool
}

func (s *fakeSink) WriteFrame(img image.Image) error {
	if s.track.Stopped() {
		return media.ErrTrackStopped
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, img)
	s.times = append(s.times, time.Now())
	return nil
}

// span returns when the first and the last frame were written.
func (s *fakeSink) span() (first, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.times) == 0 {
		return
	}
	return s.times[0], s.times[len(s.times)-1]
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) lastFrame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

type fakeSinks struct {
	mu    sync.Mutex
	sinks []*fakeSink
	fail  error
}

func (f *fakeSinks) NewSink(track *media.LocalTrack, format Format) (FrameSink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	s := &fakeSink{track: track, format: format}
	f.sinks = append(f.sinks, s)
	return s, nil
}

func (f *fakeSinks) last() *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[len(f.sinks)-1]
}

// halfSegmenter reports the left half of every frame as person.
type halfSegmenter struct {
	closed atomic.Bool
}

func (s *halfSegmenter) Segment(img image.Image) (*image.Gray, error) {
	b := img.Bounds()
	m := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx()/2; x++ {
			m.Pix[y*m.Stride+x] = 255
		}
	}
	return m, nil
}

func (s *halfSegmenter) Close() error {
	s.closed.Store(true)
	return nil
}

type harness struct {
	out     *media.Stream
	cams    *fakeOpener
	sinks   *fakeSinks
	models  []*halfSegmenter
	loads   atomic.Int32
	imgGate chan struct{}
	p       *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		out:     media.NewStream(),
		cams:    &fakeOpener{},
		sinks:   &fakeSinks{},
		imgGate: make(chan struct{}),
	}
	h.p = New(h.out, Config{
		Cameras: h.cams,
		Sinks:   h.sinks,
		LoadSegmenter: func() (Segmenter, error) {
			h.loads.Add(1)
			s := &halfSegmenter{}
			h.models = append(h.models, s)
			return s, nil
		},
		LoadImage: func(string) (image.Image, error) {
			<-h.imgGate
			return solid(8, 8, color.RGBA{B: 255, A: 255}), nil
		},
		FPS: 100,
	})
	t.Cleanup(func() {
		select {
		case <-h.imgGate:
		default:
			close(h.imgGate)
		}
		h.p.Deactivate()
	})
	return h
}

func waitFrames(t *testing.T, s *fakeSink, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.count() >= n }, 2*time.Second, 5*time.Millisecond)
}

var cam0 = Constraints{DeviceID: "/dev/video0", Width: 64, Height: 48}
