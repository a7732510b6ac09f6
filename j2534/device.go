package j2534

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/passthru"
)

// Device is the value record of an open PassThru device.
type Device struct {
	Handle      uint32
	LibraryPath string
}

// Version is the result of PassThruReadVersion.
type Version struct {
	Firmware string
	DLL      string
	API      string
}

// deviceKey identifies a live device handle of one native library.
type deviceKey struct {
	native passthru.NativeTransport
	handle uint32
}

// liveDevices enforces unique device handles per native library.
var liveDevices = struct {
	sync.Mutex
	m map[deviceKey]bool
}{m: make(map[deviceKey]bool)}

// DeviceSession owns one open device handle. Its mutex serializes every
// native call made for the device and for the channels opened on it.
type DeviceSession struct {
	mu sync.Mutex

	cfg      Config
	native   passthru.NativeTransport
	lib      driver.Library
	device   Device
	id       string
	log      *slog.Logger
	closed   bool
	channels map[uint32]*ChannelSession
}

// Open loads the vendor library (unless cfg.Native is set) and opens the device.
func Open(cfg Config) (*DeviceSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Op: OpOpen, Kind: InvalidArgument, Err: err}
	}

	native := cfg.Native
	var lib driver.Library
	if native == nil {
		l, err := cfg.loader()(cfg.LibraryPath)
		if err != nil {
			kind := Failed
			if errors.Is(err, driver.ErrUnsupportedPlatform) {
				kind = NotSupported
			}
			return nil, &Error{Op: OpLoad, Kind: kind, Detail: cfg.LibraryPath, Err: err}
		}
		lib = l
		native = l
	}

	release := func() {
		if lib != nil {
			_ = lib.Release()
		}
	}

	handle, st := native.Open(cfg.DeviceName)
	if st != passthru.StatusNoError {
		err := nativeError(OpOpen, st, lastError(native))
		release()
		return nil, err
	}

	key := deviceKey{native: native, handle: handle}
	liveDevices.Lock()
	if liveDevices.m[key] {
		liveDevices.Unlock()
		release()
		return nil, localError(OpOpen, InvalidHandle, "native library returned device handle %d which is still open", handle)
	}
	liveDevices.m[key] = true
	liveDevices.Unlock()

	id := uuid.New().String()
	s := &DeviceSession{
		cfg:      cfg,
		native:   native,
		lib:      lib,
		device:   Device{Handle: handle, LibraryPath: cfg.LibraryPath},
		id:       id,
		channels: make(map[uint32]*ChannelSession),
	}
	s.log = cfg.logger().With("session", id, "device", handle)
	s.log.Info("device opened", "library", cfg.LibraryPath)
	return s, nil
}

// lastError fetches the vendor description of the most recent failure.
func lastError(native passthru.NativeTransport) string {
	desc, st := native.GetLastError()
	if st != passthru.StatusNoError {
		return ""
	}
	return desc
}

// Device returns the value record of the session.
func (s *DeviceSession) Device() Device { return s.device }

// SessionID correlates log lines of one session.
func (s *DeviceSession) SessionID() string { return s.id }

// Logger returns the session logger.
func (s *DeviceSession) Logger() *slog.Logger { return s.log }

// Closed reports whether Close has succeeded.
func (s *DeviceSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *DeviceSession) checkOpen(op Op) error {
	if s.closed {
		return localError(op, InvalidHandle, "device %d is closed", s.device.Handle)
	}
	return nil
}

// fail builds a native error and logs it; unknown codes are logged at warn
// level with the raw value.
func (s *DeviceSession) fail(op Op, st passthru.Status) *Error {
	err := nativeError(op, st, lastError(s.native))
	if err.Kind == UnknownNative {
		s.log.Warn("unknown native status", "op", string(op), "code", fmt.Sprintf("0x%X", uint32(st)), "detail", err.Detail)
	} else {
		s.log.Debug("native call failed", "op", string(op), "status", st.String(), "detail", err.Detail)
	}
	return err
}

// Close closes the device and invalidates every channel and filter opened on it.
func (s *DeviceSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(OpClose); err != nil {
		return err
	}
	if st := s.native.Close(s.device.Handle); st != passthru.StatusNoError {
		return s.fail(OpClose, st)
	}
	s.closed = true
	for id, ch := range s.channels {
		ch.invalidate()
		delete(s.channels, id)
	}

	liveDevices.Lock()
	delete(liveDevices.m, deviceKey{native: s.native, handle: s.device.Handle})
	liveDevices.Unlock()

	s.log.Info("device closed")
	if s.lib != nil {
		if err := s.lib.Release(); err != nil {
			return &Error{Op: OpClose, Kind: Failed, Detail: "release library", Err: err}
		}
	}
	return nil
}

// ReadVersion returns firmware, DLL and API versions.
func (s *DeviceSession) ReadVersion() (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(OpReadVersion); err != nil {
		return Version{}, err
	}
	fw, dll, api, st := s.native.ReadVersion(s.device.Handle)
	if st != passthru.StatusNoError {
		return Version{}, s.fail(OpReadVersion, st)
	}
	return Version{Firmware: fw, DLL: dll, API: api}, nil
}

// ReadBatteryVoltage reads pin 16 of the vehicle connector in volts.
func (s *DeviceSession) ReadBatteryVoltage() (float64, error) {
	return s.readVoltage(passthru.ReadVBatt)
}

// ReadProgrammingVoltage reads the voltage currently applied by SetProgrammingVoltage.
func (s *DeviceSession) ReadProgrammingVoltage() (float64, error) {
	return s.readVoltage(passthru.ReadProgVoltage)
}

func (s *DeviceSession) readVoltage(ioctl passthru.IoctlID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(OpIoctl); err != nil {
		return 0, err
	}
	var mv uint32
	if st := s.native.Ioctl(s.device.Handle, ioctl, nil, &mv); st != passthru.StatusNoError {
		return 0, s.fail(OpIoctl, st)
	}
	return float64(mv) / 1000, nil
}

// SetProgrammingVoltage applies millivolts to pin. passthru.VoltageOff and
// passthru.ShortToGround are accepted as special values.
func (s *DeviceSession) SetProgrammingVoltage(pin, millivolts uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(OpSetProgrammingVoltage); err != nil {
		return err
	}
	if st := s.native.SetProgrammingVoltage(s.device.Handle, pin, millivolts); st != passthru.StatusNoError {
		return s.fail(OpSetProgrammingVoltage, st)
	}
	s.log.Info("programming voltage set", "pin", pin, "mv", millivolts)
	return nil
}

// Connect opens a protocol channel. The baud rate is validated before any native call.
func (s *DeviceSession) Connect(protocol passthru.ProtocolID, flags passthru.ConnectFlag, baudRate uint32) (*ChannelSession, error) {
	if err := ValidateBaudRate(protocol, baudRate); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(OpConnect); err != nil {
		return nil, err
	}
	id, st := s.native.Connect(s.device.Handle, protocol, flags, baudRate)
	if st != passthru.StatusNoError {
		return nil, s.fail(OpConnect, st)
	}
	if _, live := s.channels[id]; live {
		return nil, localError(OpConnect, InvalidHandle, "native library returned channel %d which is still connected", id)
	}

	ch := newChannelSession(s, Channel{
		ID:       id,
		Protocol: protocol,
		BaudRate: baudRate,
		Flags:    flags,
		Device:   s.device,
	})
	s.channels[id] = ch
	ch.log.Info("channel connected", "protocol", protocol.String(), "baud", baudRate, "flags", fmt.Sprintf("0x%X", uint32(flags)))
	return ch, nil
}

// Channels returns the channels still connected, ordered by id.
func (s *DeviceSession) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
