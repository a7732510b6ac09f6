package j2534

import (
	"errors"
	"io"
	"log/slog"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/passthru"
)

// Config defines how a DeviceSession reaches its vendor library.
// It replaces any process wide "selected device" or debug switch: every
// session reads only the Config it was opened with.
type Config struct {
	// LibraryPath is the vendor DLL, usually DeviceInfo.LibraryPath from driver.Discover.
	LibraryPath string

	// DeviceName is passed to PassThruOpen. Empty selects the default device.
	DeviceName string

	// Native, if set, is used instead of loading LibraryPath.
	Native passthru.NativeTransport

	// Loader maps LibraryPath. Nil means driver.Load.
	Loader func(path string) (driver.Library, error)

	// Logger receives session events. Nil disables logging.
	Logger *slog.Logger

	// Debug logs a hex dump of every message written and read.
	Debug bool
}

// DefaultConfig returns a Config loading path with logging disabled.
func DefaultConfig(path string) Config {
	return Config{
		LibraryPath: path,
		Loader:      driver.Load,
	}
}

// Validate checks that the config can reach a native library.
func (c *Config) Validate() error {
	if c.Native == nil && c.LibraryPath == "" {
		return errors.New("j2534: either Native or LibraryPath is required")
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c *Config) loader() func(string) (driver.Library, error) {
	if c.Loader != nil {
		return c.Loader
	}
	return driver.Load
}
