package passthru

import (
	"errors"
	"fmt"
)

// DataCapacity is the fixed size of PASSTHRU_MSG.Data.
const DataCapacity = 4128

var ErrDataTooLarge = errors.New("message data exceeds PASSTHRU_MSG capacity")

// Msg has the exact memory layout of the J2534 PASSTHRU_MSG struct:
// six unsigned longs followed by a 4128 byte buffer.
type Msg struct {
	ProtocolID     ProtocolID
	RxStatus       uint32
	TxFlags        uint32
	Timestamp      uint32
	DataSize       uint32
	ExtraDataIndex uint32
	Data           [DataCapacity]byte
}

// NewMsg returns a message for protocol carrying data.
func NewMsg(protocol ProtocolID, txFlags uint32, data []byte) (*Msg, error) {
	m := &Msg{ProtocolID: protocol, TxFlags: txFlags}
	if err := m.SetBytes(data); err != nil {
		return nil, err
	}
	return m, nil
}

// SetBytes copies b into Data and sets DataSize and ExtraDataIndex.
func (m *Msg) SetBytes(b []byte) error {
	if len(b) > DataCapacity {
		return fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(b))
	}
	m.Data = [DataCapacity]byte{}
	copy(m.Data[:], b)
	m.DataSize = uint32(len(b))
	m.ExtraDataIndex = m.DataSize
	return nil
}

// Bytes returns a copy of the first DataSize bytes.
// DataSize values beyond capacity are clamped; callers that care check Valid first.
func (m *Msg) Bytes() []byte {
	n := m.DataSize
	if n > DataCapacity {
		n = DataCapacity
	}
	out := make([]byte, n)
	copy(out, m.Data[:n])
	return out
}

// Valid reports whether DataSize fits the buffer.
func (m *Msg) Valid() bool {
	return m.DataSize <= DataCapacity
}

func (m *Msg) String() string {
	return fmt.Sprintf("%s rx=0x%X tx=0x%X ts=%d [% X]", m.ProtocolID, m.RxStatus, m.TxFlags, m.Timestamp, m.Bytes())
}

// ConfigItem is one SCONFIG entry.
type ConfigItem struct {
	Parameter ConfigParam
	Value     uint32
}

// ConfigList is the SCONFIG_LIST argument of GET_CONFIG and SET_CONFIG.
type ConfigList struct {
	Items []ConfigItem
}

// ByteArray is the SBYTE_ARRAY argument of FIVE_BAUD_INIT and the lookup table ioctls.
type ByteArray struct {
	Bytes []byte
}
