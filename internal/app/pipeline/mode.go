// Package pipeline produces the local video track from one of four sources and
// swaps it into the shared output stream when the source changes.
package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/dkeye/meshroom/internal/media"
)

type Mode string

const (
	ModeNormal       Mode = "normal"
	ModeAltText      Mode = "alt-text"
	ModeBlur         Mode = "blur"
	ModeVirtualImage Mode = "virtual-image"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeNormal, ModeAltText, ModeBlur, ModeVirtualImage:
		return m, nil
	}
	return "", fmt.Errorf("unknown video mode %q", s)
}

func (m Mode) usesCamera() bool { return m != ModeAltText }
func (m Mode) usesModel() bool  { return m == ModeBlur || m == ModeVirtualImage }

// Constraints select and shape a capture device.
type Constraints struct {
	DeviceID   string `json:"device_id,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	FrameRate  int    `json:"frame_rate,omitempty"`
	FacingMode string `json:"facing_mode,omitempty"`
}

func (c Constraints) Empty() bool { return c == Constraints{} }

type Options struct {
	Camera Constraints
	// Text is drawn in AltText mode.
	Text string
	// Background is the image path used by VirtualImage.
	Background string
}

// Camera is an acquired video device. Frame returns the most recent frame, or
// false until the first one arrives.
type Camera interface {
	Frame() (*image.RGBA, bool)
	Size() (width, height int)
	Close() error
}

// CameraOpener acquires a camera. Failures are *domain.DeviceError.
type CameraOpener interface {
	Open(ctx context.Context, c Constraints) (Camera, error)
}

type Format struct {
	Width  int
	Height int
	FPS    int
}

// FrameSink encodes composed frames into a track.
type FrameSink interface {
	WriteFrame(img image.Image) error
	Close() error
}

type SinkFactory interface {
	NewSink(track *media.LocalTrack, f Format) (FrameSink, error)
}

// Segmenter returns a person mask for img: 255 is certainly person, 0 certainly background.
type Segmenter interface {
	Segment(img image.Image) (*image.Gray, error)
	Close() error
}
