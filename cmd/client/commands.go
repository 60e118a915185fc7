package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/adapters/capture"
	"github.com/dkeye/meshroom/internal/app/mesh"
	"github.com/dkeye/meshroom/internal/app/pipeline"
	"github.com/dkeye/meshroom/internal/media"
)

var (
	errQuit       = errors.New("quit")
	errUnknownCmd = errors.New("unknown command")
)

type command struct {
	name string
	arg  string
}

// parseCommand reads one stdin line. Lines without a leading slash are chat.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, io.EOF
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "say", arg: line}, nil
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit", "peers", "devices", "mute", "unmute", "help", "log":
		return command{name: name}, nil
	case "video":
		if arg != "on" && arg != "off" {
			return command{}, fmt.Errorf("/video wants on or off")
		}
	case "mode":
		if _, err := pipeline.ParseMode(arg); err != nil {
			return command{}, err
		}
	case "camera", "background", "name", "say":
		if arg == "" {
			return command{}, fmt.Errorf("/%s needs an argument", name)
		}
	default:
		return command{}, fmt.Errorf("%w: /%s", errUnknownCmd, name)
	}
	return command{name: name, arg: arg}, nil
}

const helpText = `text            send a chat message
/say text       same
/video on|off   switch to the alt-text card and back
/mode m         normal, alt-text, blur or virtual-image
/camera dev     capture from another device
/background p   virtual background image
/mute /unmute   microphone
/name n         change display name
/peers /devices /log /quit`

// controller applies commands to the running client.
type controller struct {
	mgr  *mesh.Manager
	pipe *pipeline.Pipeline
	out  io.Writer

	altText string
	// saved is the camera mode restored by /video on.
	saved     pipeline.Mode
	savedOpts pipeline.Options
}

func (c *controller) handle(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(c.out, helpText)
	case "say":
		return c.mgr.SendDataAll(cmd.arg)
	case "mute", "unmute":
		return c.mgr.SetTrackEnabled(media.KindAudio, cmd.name == "unmute")
	case "name":
		return c.mgr.SetDisplayName(cmd.arg)
	case "video":
		return c.toggleVideo(ctx, cmd.arg == "on")
	case "mode":
		m, _ := pipeline.ParseMode(cmd.arg)
		_, opts, _ := c.pipe.Mode()
		opts = c.cameraOpts(opts)
		opts.Text = c.altText
		return c.pipe.Activate(ctx, m, opts)
	case "camera":
		return c.switchCamera(ctx, cmd.arg)
	case "background":
		return c.pipe.SetBackground(cmd.arg)
	case "peers":
		for _, s := range c.mgr.Sessions() {
			fmt.Fprintf(c.out, "%-36s %-20s %s available=%t\n", s.PeerID, s.DisplayName, s.State, s.Available)
		}
	case "devices":
		devs, err := capture.ListDevices()
		if err != nil {
			return err
		}
		for _, d := range devs {
			fmt.Fprintf(c.out, "%-10s %-16s %s\n", d.Kind, d.ID, d.Label)
		}
	case "log":
		for _, m := range c.mgr.Messages() {
			fmt.Fprintf(c.out, "[%s] %s\n", m.SenderPeerID, m.Message)
		}
	}
	return nil
}

// cameraOpts fills in camera constraints from the saved mode when the active
// mode has none, as AltText does.
func (c *controller) cameraOpts(opts pipeline.Options) pipeline.Options {
	if opts.Camera.Empty() {
		opts.Camera = c.savedOpts.Camera
		if opts.Background == "" {
			opts.Background = c.savedOpts.Background
		}
	}
	return opts
}

func (c *controller) toggleVideo(ctx context.Context, on bool) error {
	mode, opts, active := c.pipe.Mode()
	if !on {
		if active && mode == pipeline.ModeAltText {
			return nil
		}
		if active {
			c.saved, c.savedOpts = mode, opts
		}
		return c.pipe.Activate(ctx, pipeline.ModeAltText, pipeline.Options{Text: c.altText})
	}
	if c.saved == "" || (active && mode != pipeline.ModeAltText) {
		return nil
	}
	return c.pipe.Activate(ctx, c.saved, c.savedOpts)
}

func (c *controller) switchCamera(ctx context.Context, device string) error {
	mode, opts, active := c.pipe.Mode()
	if !active || mode == pipeline.ModeAltText {
		c.savedOpts.Camera.DeviceID = device
		log.Info().Str("module", "client").Str("device", device).Msg("camera used when video is back on")
		return nil
	}
	opts.Camera.DeviceID = device
	if err := c.pipe.Activate(ctx, mode, opts); err != nil {
		return err
	}
	c.savedOpts.Camera = opts.Camera
	return nil
}
