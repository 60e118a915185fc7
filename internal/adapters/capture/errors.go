package capture

import (
	"errors"
	"os"
	"strings"

	"github.com/dkeye/meshroom/internal/domain"
)

var stderrKinds = []struct {
	needle string
	kind   domain.DeviceErrorKind
}{
	{"No such file or directory", domain.DeviceNoDevice},
	{"No such device", domain.DeviceNoDevice},
	{"Device or resource busy", domain.DeviceBusy},
	{"Permission denied", domain.DevicePermissionDenied},
	{"Operation not permitted", domain.DevicePermissionDenied},
	{"Invalid argument", domain.DeviceConstraints},
	{"Cannot find a proper format", domain.DeviceConstraints},
	{"not supported", domain.DeviceConstraints},
}

// Classify maps a failed capture start to a DeviceError. stderr is what
// ffmpeg printed before it gave up.
func Classify(device, stderr string, err error) *domain.DeviceError {
	if err == nil {
		err = errors.New(lastLine(stderr))
	}
	de := &domain.DeviceError{Kind: domain.DeviceOther, Device: device, Err: err}
	if strings.HasPrefix(device, "/dev/") {
		if _, serr := os.Stat(device); errors.Is(serr, os.ErrNotExist) {
			de.Kind = domain.DeviceNoDevice
			return de
		}
	}
	for _, k := range stderrKinds {
		if strings.Contains(stderr, k.needle) {
			de.Kind = k.kind
			return de
		}
	}
	return de
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	if s == "" {
		return "capture failed"
	}
	return s
}
