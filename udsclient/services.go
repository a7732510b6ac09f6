package udsclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/j2534"
)

// ErrUnexpectedResponse is returned when the ECU answers with a positive
// response that is too short for the service.
var ErrUnexpectedResponse = errors.New("unexpected response")

// Service describes one diagnostic request: its service id and how many
// bytes of the positive response echo the request before the data.
type Service struct {
	Name   string
	SID    byte
	Header int
}

// ResponseSID is the positive response service id.
func (s Service) ResponseSID() byte { return s.SID + 0x40 }

var (
	ReadDataByIdentifier       = Service{Name: "ReadDataByIdentifier", SID: 0x22, Header: 3}
	ReadECUIdentification      = Service{Name: "ReadECUIdentification", SID: 0x1A, Header: 2}
	TesterPresent              = Service{Name: "TesterPresent", SID: 0x3E, Header: 2}
	DiagnosticSessionControl   = Service{Name: "DiagnosticSessionControl", SID: 0x10, Header: 2}
	ReadDTCInformation         = Service{Name: "ReadDTCInformation", SID: 0x19, Header: 3}
	ClearDiagnosticInformation = Service{Name: "ClearDiagnosticInformation", SID: 0x14, Header: 1}
	SecurityAccess             = Service{Name: "SecurityAccess", SID: 0x27, Header: 2}
	ECUReset                   = Service{Name: "ECUReset", SID: 0x11, Header: 2}
)

// Well known identifiers and sub-functions.
const (
	DIDVIN             uint16 = 0xF190
	ECUIDDefault       byte   = 0x87
	ReportDTCByStatus  byte   = 0x02
	SuppressPosRspBit  byte   = 0x80
	SessionDefault     byte   = 0x01
	SessionProgramming byte   = 0x02
	SessionExtended    byte   = 0x03
	ResetHard          byte   = 0x01
	ResetKeyOffOn      byte   = 0x02
	ResetSoft          byte   = 0x03
)

// Call sends s with params and returns the data after the response header.
// Negative responses come back as *NegativeResponse.
func (c *Client) Call(s Service, params ...byte) ([]byte, error) {
	if !c.ch.Protocol().IsCANFamily() {
		return nil, &j2534.Error{Op: j2534.OpTransmitAndReceive, Kind: j2534.NotSupported,
			Detail: fmt.Sprintf("%s needs a CAN channel, have %s", s.Name, c.ch.Protocol())}
	}
	req := append([]byte{s.SID}, params...)
	m, err := c.TransmitAndReceive(req, c.opts.Attempts, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	if nr, ok := ParseNegativeResponse(m.Payload); ok {
		return nil, nr
	}
	if len(m.Payload) < s.Header {
		return nil, fmt.Errorf("%s: %w: % X", s.Name, ErrUnexpectedResponse, m.Payload)
	}
	return m.Payload[s.Header:], nil
}

// ReadDataByIdentifier reads one data identifier.
func (c *Client) ReadDataByIdentifier(did uint16) ([]byte, error) {
	return c.Call(ReadDataByIdentifier, byte(did>>8), byte(did))
}

// ReadVIN reads DID F190 and returns its printable characters.
func (c *Client) ReadVIN() (string, error) {
	data, err := c.ReadDataByIdentifier(DIDVIN)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(driver.HexToASCII(data)), nil
}

// ReadECUID reads an ECU identification record, 0x87 on Chrysler controllers.
func (c *Client) ReadECUID(id byte) ([]byte, error) {
	return c.Call(ReadECUIdentification, id)
}

// TesterPresent keeps the diagnostic session alive. With suppress the ECU
// stays silent, so only the transmission is checked.
func (c *Client) TesterPresent(suppress bool) error {
	if suppress {
		return c.TransmitOnly([]byte{TesterPresent.SID, SuppressPosRspBit})
	}
	_, err := c.Call(TesterPresent, 0x00)
	return err
}

// StartSession switches the diagnostic session.
func (c *Client) StartSession(kind byte) error {
	_, err := c.Call(DiagnosticSessionControl, kind)
	return err
}

// ECUReset requests a reset of the given kind.
func (c *Client) ECUReset(kind byte) error {
	_, err := c.Call(ECUReset, kind)
	return err
}

// ClearDTCs clears every stored trouble code.
func (c *Client) ClearDTCs() error {
	_, err := c.Call(ClearDiagnosticInformation, 0xFF, 0xFF, 0xFF)
	return err
}

// DTC is one trouble code record of a ReadDTCInformation answer.
type DTC struct {
	Code        string // e.g. "P0122"
	FailureType byte
	Status      byte
}

func (d DTC) String() string {
	return fmt.Sprintf("%s-%02X (status %02X)", d.Code, d.FailureType, d.Status)
}

// DecodeDTC decodes a 2-byte DTC value (A,B) into a string like "P0122".
// Returns "" if both bytes are zero.
func DecodeDTC(a, b byte) string {
	if a == 0 && b == 0 {
		return ""
	}
	const hexDigits = "0123456789ABCDEF"
	code := [5]byte{
		"PCBU"[(a>>6)&0x03],
		'0' + (a>>4)&0x03,
		hexDigits[a&0x0F],
		hexDigits[(b>>4)&0x0F],
		hexDigits[b&0x0F],
	}
	return string(code[:])
}

// ParseDTCs splits DTC records of 3 code bytes and a status byte.
// Zero codes and a trailing partial record are dropped.
func ParseDTCs(records []byte) []DTC {
	var dtcs []DTC
	for _, rec := range driver.SplitBlock(records, 4) {
		if len(rec) < 4 {
			break
		}
		code := DecodeDTC(rec[0], rec[1])
		if code == "" {
			continue
		}
		dtcs = append(dtcs, DTC{Code: code, FailureType: rec[2], Status: rec[3]})
	}
	return dtcs
}

// ReadDTCs reports the trouble codes matching statusMask (0xFF for all).
func (c *Client) ReadDTCs(statusMask byte) ([]DTC, error) {
	data, err := c.Call(ReadDTCInformation, ReportDTCByStatus, statusMask)
	if err != nil {
		return nil, err
	}
	return ParseDTCs(data), nil
}

// RequestSeed asks for the security access seed of level (odd).
func (c *Client) RequestSeed(level byte) ([]byte, error) {
	return c.Call(SecurityAccess, level)
}

// SendKey answers the seed of level with key.
func (c *Client) SendKey(level byte, key []byte) error {
	_, err := c.Call(SecurityAccess, append([]byte{level + 1}, key...)...)
	return err
}

// Unlock runs the seed/key exchange of level with alg. A zero seed means
// the level is already unlocked.
func (c *Client) Unlock(level byte, alg KeyAlgorithm) error {
	seed, err := c.RequestSeed(level)
	if err != nil {
		return err
	}
	if isZero(seed) {
		c.log.Info("security level already unlocked", "level", level)
		return nil
	}
	key, err := alg.Key(level, seed)
	if err != nil {
		return fmt.Errorf("computing key for level %02X: %w", level, err)
	}
	return c.SendKey(level, key)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
