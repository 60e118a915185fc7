package pipeline

import (
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	AltTextWidth  = 1920
	AltTextHeight = 1080
	altTextSize   = 100

	foregroundThreshold = 0.5
	backgroundBlur      = 20.0
	edgeBlur            = 3.0
	blurDownscale       = 4 // background is blurred at this fraction of the frame size

	maskForeground uint8 = 12
	maskBackground uint8 = 16
	maskThreshold  uint8 = 12
	foregroundCut  uint8 = 127 // foregroundThreshold of 255, rounded down
)

var goRegular = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// RenderText draws text centered, white on black.
func RenderText(text string, w, h int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
	if text == "" {
		return img, nil
	}

	f, err := goRegular()
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: altTextSize, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, err
	}
	defer face.Close()

	d := &font.Drawer{Dst: img, Src: image.White, Face: face}
	m := face.Metrics()
	d.Dot = fixed.Point26_6{
		X: (fixed.I(w) - d.MeasureString(text)) / 2,
		Y: (fixed.I(h) + m.Ascent - m.Descent) / 2,
	}
	d.DrawString(text)
	return img, nil
}

// fit scales img to exactly w x h, cropping around the center when the aspect differs.
func fit(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	return imaging.Fill(img, w, h, imaging.Center, imaging.Linear)
}

// maskValues returns one value per output pixel, resampling m when its size differs.
func maskValues(m *image.Gray, w, h int) []uint8 {
	out := make([]uint8, w*h)
	b := m.Bounds()
	if b.Dx() == w && b.Dy() == h {
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], m.Pix[y*m.Stride:y*m.Stride+w])
		}
		return out
	}
	scaled := imaging.Resize(m, w, h, imaging.Linear)
	for i := range out {
		out[i] = scaled.Pix[i*4]
	}
	return out
}

func blurredBackground(frame image.Image, w, h int) *image.NRGBA {
	sw := w / blurDownscale
	if sw < 1 {
		sw = 1
	}
	small := imaging.Resize(frame, sw, 0, imaging.Linear)
	small = imaging.Blur(small, backgroundBlur/blurDownscale)
	return imaging.Resize(small, w, h, imaging.Linear)
}

// ComposeBlur keeps person pixels sharp and blurs the rest, with a soft edge
// between the two.
func ComposeBlur(frame image.Image, mask *image.Gray) *image.NRGBA {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	probs := maskValues(mask, w, h)

	binary := image.NewGray(image.Rect(0, 0, w, h))
	cut := foregroundCut
	for i, p := range probs {
		if p >= cut {
			binary.Pix[i] = 255
		}
	}
	soft := imaging.Blur(binary, edgeBlur)
	bg := blurredBackground(frame, w, h)
	src := imaging.Clone(frame)

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		a := uint32(soft.Pix[i*4])
		o := i * 4
		for c := 0; c < 3; c++ {
			out.Pix[o+c] = uint8((uint32(src.Pix[o+c])*a + uint32(bg.Pix[o+c])*(255-a)) / 255)
		}
		out.Pix[o+3] = 255
	}
	return out
}

// ComposeVirtual replaces background pixels with bg. Without a background the
// frame passes through unchanged.
func ComposeVirtual(frame image.Image, mask *image.Gray, bg *image.NRGBA) *image.NRGBA {
	src := imaging.Clone(frame)
	if bg == nil {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if bb := bg.Bounds(); bb.Dx() != w || bb.Dy() != h {
		bg = imaging.Fill(bg, w, h, imaging.Center, imaging.Linear)
	}
	probs := maskValues(mask, w, h)
	cut := foregroundCut
	for i, p := range probs {
		v := maskBackground
		if p >= cut {
			v = maskForeground
		}
		if v > maskThreshold {
			o := i * 4
			copy(src.Pix[o:o+4], bg.Pix[o:o+4])
		}
	}
	return src
}
