package passthru

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgLayout(t *testing.T) {
	var m Msg
	assert.Equal(t, uintptr(6*4+DataCapacity), unsafe.Sizeof(m))
	assert.Equal(t, uintptr(24), unsafe.Offsetof(m.Data))
}

func TestMsg_SetBytes(t *testing.T) {
	m, err := NewMsg(ISO15765, ISO15765FramePad, []byte{0x00, 0x00, 0x07, 0xE0, 0x3E, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint32(6), m.DataSize)
	assert.Equal(t, m.DataSize, m.ExtraDataIndex)
	assert.Equal(t, []byte{0x00, 0x00, 0x07, 0xE0, 0x3E, 0x00}, m.Bytes())

	// shorter data clears the previous tail
	require.NoError(t, m.SetBytes([]byte{0x01}))
	assert.Equal(t, byte(0), m.Data[1])

	err = m.SetBytes(make([]byte, DataCapacity+1))
	assert.ErrorIs(t, err, ErrDataTooLarge)
	assert.Equal(t, []byte{0x01}, m.Bytes())
}

func TestMsg_BytesClampsDataSize(t *testing.T) {
	m := &Msg{DataSize: DataCapacity + 10}
	assert.False(t, m.Valid())
	assert.Len(t, m.Bytes(), DataCapacity)
}

func TestMsg_String(t *testing.T) {
	m, err := NewMsg(CAN, 0, []byte{0x00, 0x00, 0x07, 0xE8, 0x7E})
	require.NoError(t, err)
	m.RxStatus = TxMsgType
	assert.Equal(t, "CAN rx=0x1 tx=0x0 ts=0 [00 00 07 E8 7E]", m.String())
}

func TestParseProtocol(t *testing.T) {
	for _, p := range Protocols {
		got, err := ParseProtocol(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseProtocol("sci-b-engine")
	require.NoError(t, err)
	assert.Equal(t, SCIBEngine, got)
	got, err = ParseProtocol("SCIATRANS")
	require.NoError(t, err)
	assert.Equal(t, SCIATrans, got)

	_, err = ParseProtocol("FlexRay")
	assert.Error(t, err)
}

func TestProtocolClasses(t *testing.T) {
	assert.True(t, CAN.IsCANFamily())
	assert.True(t, ISO15765.IsCANFamily())
	assert.False(t, J1850VPW.IsCANFamily())
	assert.True(t, SCIAEngine.IsSCI())
	assert.True(t, SCIBTrans.IsSCI())
	assert.False(t, ISO14230.IsSCI())
	assert.False(t, ProtocolID(0x99).Valid())
	assert.Equal(t, "PROTOCOL_0x99", ProtocolID(0x99).String())
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "ERR_MSG_PROTOCOL_ID", ErrMsgProtocolID.String())
	assert.True(t, ErrInvalidFilterID.Known())
	assert.False(t, Status(0x42).Known())
	assert.Equal(t, "STATUS_0x42", Status(0x42).String())
	assert.Equal(t, "unknown native status 0x42", Status(0x42).Description())
	assert.Equal(t, "FLOW_CONTROL", FlowControlFilter.String())
}
