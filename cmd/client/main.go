package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/adapters/capture"
	"github.com/dkeye/meshroom/internal/adapters/codec"
	"github.com/dkeye/meshroom/internal/adapters/rendezvous"
	"github.com/dkeye/meshroom/internal/adapters/rosterapi"
	"github.com/dkeye/meshroom/internal/adapters/rtc"
	"github.com/dkeye/meshroom/internal/adapters/store"
	"github.com/dkeye/meshroom/internal/app/mesh"
	"github.com/dkeye/meshroom/internal/app/pipeline"
	"github.com/dkeye/meshroom/internal/config"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/media"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("client")
	}
	log.Info().Msg("bye")
}

func run(ctx context.Context, cfg *config.ClientConfig) error {
	ids := store.NewIdentityFile(cfg.Identity.File)
	stored, _, err := ids.Load()
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("identity file unreadable, starting fresh")
	}
	identity, err := domain.NewLocalIdentity(cfg.Identity.DisplayName)
	if err != nil {
		return fmt.Errorf("display name: %w", err)
	}

	api, err := rtc.NewAPI(rtc.APIOptions{IncludeLoopback: cfg.ICE.IncludeLoopback})
	if err != nil {
		return err
	}
	signalURL, err := cfg.SignalURL()
	if err != nil {
		return err
	}
	sig := rendezvous.New(rendezvous.Config{URL: signalURL, ICEServers: cfg.ICE.STUNURLs}, api)
	identity.PeerID, err = sig.Open(ctx, stored.PeerID)
	if err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	defer sig.Close()

	local := media.NewStream()
	defer local.Stop()
	if cfg.Audio.Enabled {
		if mic := openMicrophone(ctx, cfg, local); mic != nil {
			defer mic.Close()
		}
	}

	pipe := pipeline.New(local, pipeline.Config{
		Cameras: &capture.CameraOpener{FFmpeg: cfg.FFmpeg.Path},
		Sinks:   &codec.VP8{FFmpeg: cfg.FFmpeg.Path, Bitrate: cfg.Video.Bitrate},
		FPS:     cfg.Video.FPS,
	})
	defer pipe.Deactivate()

	ctrl := &controller{pipe: pipe, out: os.Stdout, altText: cfg.Video.AltText}
	startVideo(ctx, cfg, ctrl)

	mgr := mesh.NewManager(sig, local, *identity, mesh.Options{
		GraceWindow:   cfg.Mesh.GraceWindow,
		ConnectNotice: cfg.Mesh.ConnectNotice,
		Store:         ids,
		Callbacks: mesh.Callbacks{
			PeerReached: func(p domain.PeerID) {
				log.Info().Str("module", "client").Str("peer", string(p)).Msg("peer connected")
			},
			PeerUnavailable: func(p domain.PeerID) {
				log.Warn().Str("module", "client").Str("peer", string(p)).Msg("peer unavailable")
			},
			SessionClosed: func(p domain.PeerID) {
				log.Info().Str("module", "client").Str("peer", string(p)).Msg("peer left")
			},
			MessageAppended: func(m domain.DataConnData) {
				fmt.Fprintf(os.Stdout, "<%s> %s\n", m.SenderPeerID, m.Message)
			},
		},
	})
	ctrl.mgr = mgr

	// outlives ctx so shutdown can still reach the loop after a signal
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- mgr.Run(loopCtx) }()

	local.OnTrackReplaced(func(kind media.Kind, t *media.LocalTrack) {
		var err error
		if kind == media.KindVideo {
			err = mgr.ReplaceVideoTrack(t)
		} else {
			err = mgr.ReplaceAudioTrack(t)
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Str("kind", string(kind)).Msg("replace track")
		}
	})

	if cfg.Room.Hash != "" {
		rm := &room{
			hash:     domain.RoomHash(cfg.Room.Hash),
			roster:   rosterapi.New(cfg.Server.URL, nil),
			mgr:      mgr,
			interval: cfg.Room.PollInterval,
			watched:  make(map[string]*watchedStream),
		}
		if err := rm.join(ctx, mgr.Identity()); err != nil {
			return fmt.Errorf("join room %s: %w", cfg.Room.Hash, err)
		}
		defer rm.leave(identity.PeerID)
		go rm.poll(loopCtx)
		log.Info().Str("module", "client").Str("room", cfg.Room.Hash).Str("peer", string(identity.PeerID)).Msg("in room, type /help")
	} else {
		log.Warn().Str("module", "client").Msg("no room given, waiting for inbound calls")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdown(mgr, stopLoop, loopDone)
			return nil
		case err := <-loopDone:
			return err
		case line, ok := <-lines:
			if !ok {
				shutdown(mgr, stopLoop, loopDone)
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				if len(line) > 0 {
					fmt.Fprintln(os.Stdout, err)
				}
				continue
			}
			err = ctrl.handle(ctx, cmd)
			if errors.Is(err, errQuit) {
				shutdown(mgr, stopLoop, loopDone)
				return nil
			}
			if err != nil {
				fmt.Fprintln(os.Stdout, err)
			}
		}
	}
}

// shutdown leaves every peer while the loop still runs, then stops it.
func shutdown(mgr *mesh.Manager, stop context.CancelFunc, done <-chan error) {
	if err := mgr.DisconnectMedia(); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("disconnect")
	}
	stop()
	<-done
}

func openMicrophone(ctx context.Context, cfg *config.ClientConfig, local *media.Stream) *capture.Microphone {
	track, err := media.NewLocalTrack(media.KindAudio, local.ID())
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("audio track")
		return nil
	}
	mic, err := capture.OpenMicrophone(ctx, cfg.FFmpeg.Path, cfg.Audio.Device, track)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("microphone unavailable, joining without audio")
		return nil
	}
	local.ReplaceTrack(track)
	return mic
}

// startVideo activates the configured mode and falls back to the alt-text card
// when the camera or model cannot be used.
func startVideo(ctx context.Context, cfg *config.ClientConfig, ctrl *controller) {
	opts := pipeline.Options{
		Camera: pipeline.Constraints{
			DeviceID:  cfg.Video.Device,
			Width:     cfg.Video.Width,
			Height:    cfg.Video.Height,
			FrameRate: cfg.Video.FPS,
		},
		Text:       cfg.Video.AltText,
		Background: cfg.Video.BackgroundImage,
	}
	mode, err := pipeline.ParseMode(cfg.Video.Mode)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("video mode")
		mode = pipeline.ModeNormal
	}
	ctrl.saved, ctrl.savedOpts = mode, opts
	if mode == pipeline.ModeAltText {
		ctrl.saved = pipeline.ModeNormal
	}

	err = ctrl.pipe.Activate(ctx, mode, opts)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("module", "client").Str("mode", string(mode)).Msg("video unavailable, showing alt text")
	if err := ctrl.pipe.Activate(ctx, pipeline.ModeAltText, pipeline.Options{Text: cfg.Video.AltText}); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("alt text")
	}
}
