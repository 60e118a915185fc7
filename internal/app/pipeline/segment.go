package pipeline

import (
	"errors"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

var ErrSegmenterClosed = errors.New("segmenter closed")

const (
	segmentWidth = 160
	learnRate    = 8  // weight of a new frame in the background model, out of 256
	motionDelta  = 28 // per-channel difference from the model that counts as person
	warmupFrames = 10
)

// MotionSegmenter separates a mostly static background from whatever moves in
// front of it. It learns the background from the first frames, so the person
// should not be in view, or should move, while it warms up.
type MotionSegmenter struct {
	mu     sync.Mutex
	model  []int32
	w, h   int
	frames int
	closed bool
}

func NewMotionSegmenter() *MotionSegmenter {
	return &MotionSegmenter{}
}

// LoadMotionSegmenter matches the loader signature Config.LoadSegmenter expects.
func LoadMotionSegmenter() (Segmenter, error) {
	return NewMotionSegmenter(), nil
}

func (s *MotionSegmenter) Segment(img image.Image) (*image.Gray, error) {
	small := imaging.Resize(img, segmentWidth, 0, imaging.Box)
	w, h := small.Bounds().Dx(), small.Bounds().Dy()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSegmenterClosed
	}
	if s.w != w || s.h != h {
		s.model = make([]int32, w*h*3)
		for i := 0; i < w*h; i++ {
			for c := 0; c < 3; c++ {
				s.model[i*3+c] = int32(small.Pix[i*4+c]) << 8
			}
		}
		s.w, s.h, s.frames = w, h, 0
	}

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		moving := false
		for c := 0; c < 3; c++ {
			px := int32(small.Pix[i*4+c]) << 8
			m := &s.model[i*3+c]
			d := px - *m
			if d < 0 {
				d = -d
			}
			if d > motionDelta<<8 {
				moving = true
			}
			*m += (px - *m) * learnRate / 256
		}
		if moving && s.frames >= warmupFrames {
			mask.Pix[i] = 255
		}
	}
	s.frames++
	return mask, nil
}

func (s *MotionSegmenter) Close() error {
	s.mu.Lock()
	s.closed = true
	s.model = nil
	s.mu.Unlock()
	return nil
}
