//go:build !windows

package driver

// Load always fails off windows; use MockPassThru for development.
func Load(path string) (Library, error) {
	return nil, ErrUnsupportedPlatform
}

// Discover always fails off windows.
func Discover() ([]DeviceInfo, error) {
	return nil, ErrUnsupportedPlatform
}
