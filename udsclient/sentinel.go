package udsclient

import (
	"sync"

	"github.com/LoveWonYoung/ptcomm/j2534"
)

// Sentinel presents a Client the boolean way: every call returns a zero
// value or false on failure and keeps the error for Err. It shares the
// Client's code path, only the way failures are reported differs.
type Sentinel struct {
	c *Client

	mu  sync.Mutex
	err error
}

// NewSentinel wraps c. Choose one presentation per session.
func NewSentinel(c *Client) *Sentinel { return &Sentinel{c: c} }

// Err returns the failure of the last call, nil after a success.
func (s *Sentinel) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Sentinel) record(err error) bool {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err == nil
}

// Client returns the wrapped client.
func (s *Sentinel) Client() *Client { return s.c }

// TransmitAndReceive returns the answer payload, nil on failure.
func (s *Sentinel) TransmitAndReceive(payload []byte, maxAttempts int) []byte {
	m, err := s.c.TransmitAndReceive(payload, maxAttempts, 0)
	if !s.record(err) {
		return nil
	}
	return m.Payload
}

// TransmitOnly reports whether the request was written.
func (s *Sentinel) TransmitOnly(payload []byte) bool {
	return s.record(s.c.TransmitOnly(payload))
}

// ReceiveOnly returns the answer to request, nil on failure.
func (s *Sentinel) ReceiveOnly(request []byte) []byte {
	m, err := s.c.ReceiveOnly(request, 0)
	if !s.record(err) {
		return nil
	}
	return m.Payload
}

func (s *Sentinel) CheckCommunication() bool {
	_, err := s.c.CheckCommunication()
	return s.record(err)
}

func (s *Sentinel) ReadVIN() string {
	vin, err := s.c.ReadVIN()
	if !s.record(err) {
		return ""
	}
	return vin
}

func (s *Sentinel) ReadECUID(id byte) []byte {
	data, err := s.c.ReadECUID(id)
	if !s.record(err) {
		return nil
	}
	return data
}

func (s *Sentinel) ReadDataByIdentifier(did uint16) []byte {
	data, err := s.c.ReadDataByIdentifier(did)
	if !s.record(err) {
		return nil
	}
	return data
}

func (s *Sentinel) ReadDTCs(statusMask byte) []DTC {
	dtcs, err := s.c.ReadDTCs(statusMask)
	if !s.record(err) {
		return nil
	}
	return dtcs
}

func (s *Sentinel) ClearDTCs() bool { return s.record(s.c.ClearDTCs()) }

func (s *Sentinel) TesterPresent(suppress bool) bool { return s.record(s.c.TesterPresent(suppress)) }

func (s *Sentinel) StartSession(kind byte) bool { return s.record(s.c.StartSession(kind)) }

func (s *Sentinel) ECUReset(kind byte) bool { return s.record(s.c.ECUReset(kind)) }

func (s *Sentinel) RequestSeed(level byte) []byte {
	seed, err := s.c.RequestSeed(level)
	if !s.record(err) {
		return nil
	}
	return seed
}

func (s *Sentinel) SendKey(level byte, key []byte) bool { return s.record(s.c.SendKey(level, key)) }

func (s *Sentinel) Unlock(level byte, alg KeyAlgorithm) bool {
	return s.record(s.c.Unlock(level, alg))
}

// BatteryVoltage returns the supply in volts, 0 on failure. Only Dial
// clients own a device.
func (s *Sentinel) BatteryVoltage() float64 {
	if s.c.dev == nil {
		s.record(&j2534.Error{Op: j2534.OpIoctl, Kind: j2534.InvalidHandle, Detail: "client has no device session"})
		return 0
	}
	v, err := s.c.dev.ReadBatteryVoltage()
	if !s.record(err) {
		return 0
	}
	return v
}

// Close reports whether the client closed cleanly.
func (s *Sentinel) Close() bool { return s.record(s.c.Close()) }
