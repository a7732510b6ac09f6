package driver

import (
	"errors"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

// ErrUnsupportedPlatform is returned where no vendor library can be loaded.
var ErrUnsupportedPlatform = errors.New("passthru libraries can only be loaded on windows")

// Library is a loaded vendor PassThru library. Release unloads it; Close
// belongs to the PassThru function table and closes a device.
type Library interface {
	passthru.NativeTransport
	Release() error
	Path() string
}

// DeviceInfo describes one PassThru interface registered on the host.
type DeviceInfo struct {
	Name              string
	Vendor            string
	LibraryPath       string
	ConfigApplication string
	Protocols         []passthru.ProtocolID
}

// Supports reports whether the registry lists protocol for this device.
func (d DeviceInfo) Supports(protocol passthru.ProtocolID) bool {
	for _, p := range d.Protocols {
		if p == protocol {
			return true
		}
	}
	return false
}

// cString returns the NUL terminated prefix of b.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
