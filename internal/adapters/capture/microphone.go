package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/adapters/ffmpeg"
	"github.com/dkeye/meshroom/internal/domain"
	lmedia "github.com/dkeye/meshroom/internal/media"
)

// DefaultMicrophone is "<ffmpeg input format>:<device>".
const DefaultMicrophone = "pulse:default"

const opusRate = 48000

type SampleWriter interface {
	WriteSample(media.Sample) error
}

// MicrophoneArgs captures device and writes Opus in Ogg with one 20ms packet per page.
func MicrophoneArgs(device string) (args []string, format, input string) {
	if device == "" {
		device = DefaultMicrophone
	}
	format, input = "pulse", device
	if f, in, ok := strings.Cut(device, ":"); ok && f != "" && in != "" {
		format, input = f, in
	}
	args = []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", input,
		"-c:a", "libopus", "-ar", "48000", "-ac", "2", "-b:a", "64k",
		"-frame_duration", "20", "-page_duration", "20000",
		"-f", "ogg", "pipe:1",
	}
	return args, format, input
}

// Microphone is a running audio capture feeding a track.
type Microphone struct {
	device string
	proc   *ffmpeg.Process
	done   chan struct{}
}

// OpenMicrophone starts capture into track. It returns once the Ogg header
// arrived so device failures surface as a DeviceError.
func OpenMicrophone(ctx context.Context, bin, device string, track *lmedia.LocalTrack) (*Microphone, error) {
	args, _, input := MicrophoneArgs(device)
	proc, err := ffmpeg.Start(context.Background(), "microphone", bin, args, false)
	if err != nil {
		return nil, &domain.DeviceError{Kind: domain.DeviceOther, Device: input, Err: err}
	}

	type opened struct {
		ogg *oggreader.OggReader
		err error
	}
	ch := make(chan opened, 1)
	go func() {
		ogg, _, err := oggreader.NewWith(proc.Stdout())
		ch <- opened{ogg, err}
	}()

	var ogg *oggreader.OggReader
	select {
	case o := <-ch:
		if o.err != nil {
			_ = proc.Stop()
			return nil, Classify(input, proc.Stderr(), o.err)
		}
		ogg = o.ogg
	case <-time.After(startTimeout):
		_ = proc.Stop()
		return nil, &domain.DeviceError{Kind: domain.DeviceOther, Device: input, Err: errors.New("no audio from microphone")}
	case <-ctx.Done():
		_ = proc.Stop()
		return nil, ctx.Err()
	}

	m := &Microphone{device: input, proc: proc, done: make(chan struct{})}
	go func() {
		defer close(m.done)
		if err := PumpOgg(ogg, track); err != nil && !errors.Is(err, lmedia.ErrTrackStopped) && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Err(err).Str("module", "capture").Str("device", input).Msg("microphone ended")
		}
	}()
	log.Info().Str("module", "capture").Str("device", input).Msg("microphone open")
	return m, nil
}

func (m *Microphone) Close() error {
	err := m.proc.Stop()
	<-m.done
	return err
}

// PumpOgg writes every Opus page as a sample, timed by the granule position.
func PumpOgg(ogg *oggreader.OggReader, w SampleWriter) error {
	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}
		var d time.Duration
		if header.GranulePosition > lastGranule {
			d = time.Duration(header.GranulePosition-lastGranule) * time.Second / opusRate
		}
		lastGranule = header.GranulePosition
		if err := w.WriteSample(media.Sample{Data: page, Duration: d}); err != nil {
			return fmt.Errorf("write audio sample: %w", err)
		}
	}
}
