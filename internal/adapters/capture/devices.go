package capture

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type DeviceKind string

const (
	VideoInput DeviceKind = "videoinput"
	AudioInput DeviceKind = "audioinput"
)

type Device struct {
	ID    string     `json:"device_id"`
	Kind  DeviceKind `json:"kind"`
	Label string     `json:"label"`
}

// Lister enumerates v4l2 devices under Root. A zero Lister reads the real system.
type Lister struct {
	Root string
}

// ListDevices returns every video capture node plus the default audio input.
func ListDevices() ([]Device, error) {
	return Lister{}.List()
}

func (l Lister) List() ([]Device, error) {
	nodes, err := filepath.Glob(filepath.Join(l.Root, "/dev/video*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(nodes)

	out := make([]Device, 0, len(nodes)+1)
	for _, n := range nodes {
		base := filepath.Base(n)
		label := base
		if b, err := os.ReadFile(filepath.Join(l.Root, "/sys/class/video4linux", base, "name")); err == nil {
			if s := strings.TrimSpace(string(b)); s != "" {
				label = s
			}
		}
		out = append(out, Device{ID: "/dev/" + base, Kind: VideoInput, Label: label})
	}
	out = append(out, Device{ID: DefaultMicrophone, Kind: AudioInput, Label: "Default"})
	return out, nil
}
