// Package capture acquires cameras and microphones through ffmpeg.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/adapters/ffmpeg"
	"github.com/dkeye/meshroom/internal/app/pipeline"
	"github.com/dkeye/meshroom/internal/domain"
)

const (
	DefaultCamera = "/dev/video0"
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30
	startTimeout  = 5 * time.Second
)

// CameraOpener opens v4l2 cameras and scales them to the requested size.
type CameraOpener struct {
	FFmpeg string
	// InputFormat is the ffmpeg demuxer, v4l2 unless set.
	InputFormat string
}

var _ pipeline.CameraOpener = (*CameraOpener)(nil)

// CameraArgs captures c and writes raw RGBA frames of exactly w x h to stdout.
func CameraArgs(format string, c pipeline.Constraints) (args []string, device string, w, h int) {
	device, w, h = c.DeviceID, c.Width, c.Height
	if device == "" {
		device = DefaultCamera
	}
	if w <= 0 || h <= 0 {
		w, h = DefaultWidth, DefaultHeight
	}
	fps := c.FrameRate
	if fps <= 0 {
		fps = DefaultFPS
	}
	if format == "" {
		format = "v4l2"
	}
	size := fmt.Sprintf("%dx%d", w, h)
	args = []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-framerate", strconv.Itoa(fps), "-video_size", size, "-i", device,
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1",
	}
	return args, device, w, h
}

// Open starts capture and waits for the first frame, so a device that fails
// to start is reported as a DeviceError here rather than as a silent stream.
func (o *CameraOpener) Open(ctx context.Context, c pipeline.Constraints) (pipeline.Camera, error) {
	args, device, w, h := CameraArgs(o.InputFormat, c)
	if c.FacingMode != "" {
		log.Debug().Str("module", "capture").Str("facing", c.FacingMode).Msg("facing mode ignored for v4l2")
	}
	proc, err := ffmpeg.Start(context.Background(), "camera", o.FFmpeg, args, false)
	if err != nil {
		return nil, &domain.DeviceError{Kind: domain.DeviceOther, Device: device, Err: err}
	}
	cam := newCamera(proc.Stdout(), w, h)
	cam.stop = proc.Stop

	timer := time.NewTimer(startTimeout)
	defer timer.Stop()
	select {
	case <-cam.first:
		log.Info().Str("module", "capture").Str("device", device).Int("width", w).Int("height", h).Msg("camera open")
		return cam, nil
	case <-cam.ended:
		_ = proc.Stop()
		return nil, Classify(device, proc.Stderr(), proc.Err())
	case <-timer.C:
		_ = proc.Stop()
		return nil, &domain.DeviceError{Kind: domain.DeviceOther, Device: device, Err: errors.New("no frame from camera")}
	case <-ctx.Done():
		_ = proc.Stop()
		return nil, ctx.Err()
	}
}

// Camera keeps only the most recent frame; a slow reader skips frames.
type Camera struct {
	w, h int
	stop func() error

	mu     sync.Mutex
	latest *image.RGBA

	first     chan struct{}
	firstOnce sync.Once
	ended     chan struct{}
	closeOnce sync.Once
}

func newCamera(r io.Reader, w, h int) *Camera {
	c := &Camera{w: w, h: h, first: make(chan struct{}), ended: make(chan struct{})}
	go c.readLoop(r)
	return c
}

func (c *Camera) readLoop(r io.Reader) {
	defer close(c.ended)
	size := c.w * c.h * 4
	for {
		img := image.NewRGBA(image.Rect(0, 0, c.w, c.h))
		if _, err := io.ReadFull(r, img.Pix[:size]); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("module", "capture").Msg("camera read ended")
			}
			return
		}
		c.mu.Lock()
		c.latest = img
		c.mu.Unlock()
		c.firstOnce.Do(func() { close(c.first) })
	}
}

func (c *Camera) Frame() (*image.RGBA, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.latest != nil
}

func (c *Camera) Size() (int, int) { return c.w, c.h }

func (c *Camera) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.stop != nil {
			err = c.stop()
		}
		<-c.ended
		c.mu.Lock()
		c.latest = nil
		c.mu.Unlock()
	})
	return err
}
