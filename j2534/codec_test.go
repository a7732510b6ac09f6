package j2534

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

func TestEncode_ISO15765FramePad(t *testing.T) {
	msg, err := Encode(passthru.ISO15765, passthru.ISO15765FramePad, 0x7E0, []byte{0x3E, 0x00})
	require.NoError(t, err)

	want := []byte{0x00, 0x00, 0x07, 0xE0, 0x3E, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	assert.Equal(t, want, msg.Bytes())
	assert.Equal(t, uint32(12), msg.DataSize)
	assert.Equal(t, msg.DataSize, msg.ExtraDataIndex)
	assert.Equal(t, passthru.ISO15765, msg.ProtocolID)
	assert.Equal(t, passthru.ISO15765FramePad, msg.TxFlags)
}

func TestEncode_NoPadKeepsLength(t *testing.T) {
	msg, err := Encode(passthru.CAN, 0, 0x18DA10F1, []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x18, 0xDA, 0x10, 0xF1, 0x01, 0x02}, msg.Bytes())
}

func TestEncode_LegacyProtocolsCopyPayload(t *testing.T) {
	frame := []byte{0x68, 0x6A, 0xF1, 0x01, 0x00}
	for _, p := range []passthru.ProtocolID{passthru.J1850VPW, passthru.J1850PWM, passthru.ISO9141, passthru.ISO14230, passthru.SCIAEngine} {
		msg, err := Encode(p, 0, 0, frame)
		require.NoError(t, err, p.String())
		assert.Equal(t, frame, msg.Bytes(), p.String())
	}
}

func TestEncode_LegacyRejectsIdentifier(t *testing.T) {
	_, err := Encode(passthru.J1850VPW, 0, 0x6A, []byte{0x01})
	assert.True(t, errors.Is(err, InvalidArgument))
}

func TestEncode_OversizePayload(t *testing.T) {
	for p, limit := range maxPayload {
		if limit >= passthru.DataCapacity {
			// J1850VPW is bounded by the buffer itself
			continue
		}
		msg, err := Encode(p, 0, 0, make([]byte, limit+1))
		assert.Nil(t, msg, p.String())
		assert.True(t, errors.Is(err, InvalidArgument), "%s: %v", p, err)
	}

	msg, err := Encode(passthru.J1850VPW, 0, 0, make([]byte, passthru.DataCapacity+1))
	assert.Nil(t, msg)
	assert.True(t, errors.Is(err, InvalidArgument))
}

func TestEncode_UnknownProtocol(t *testing.T) {
	_, err := Encode(passthru.ProtocolID(0x99), 0, 0, []byte{1})
	assert.Equal(t, InvalidProtocol, KindOf(err))
}

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		protocol passthru.ProtocolID
		flags    uint32
		id       uint32
		payload  []byte
		want     []byte
	}{
		{passthru.ISO15765, 0, 0x7E0, []byte{0x22, 0xF1, 0x90}, []byte{0x22, 0xF1, 0x90}},
		{passthru.ISO15765, passthru.ISO15765FramePad, 0x7E0, []byte{0x3E, 0x00}, []byte{0x3E, 0, 0, 0, 0, 0, 0, 0}},
		{passthru.ISO15765, passthru.ISO15765FramePad, 0x7E0, bytes.Repeat([]byte{0xAA}, 20), bytes.Repeat([]byte{0xAA}, 20)},
		{passthru.CAN, passthru.TxCAN29BitID, 0x18DAF110, []byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{passthru.CAN, 0, 0x123, nil, []byte{}},
		{passthru.J1850VPW, 0, 0, []byte{0x68, 0x6A, 0xF1, 0x01, 0x00}, []byte{0x68, 0x6A, 0xF1, 0x01, 0x00}},
		{passthru.J1850PWM, 0, 0, []byte{0x61, 0x6A, 0xF1, 0x01}, []byte{0x61, 0x6A, 0xF1, 0x01}},
		{passthru.ISO9141, 0, 0, []byte{0x68, 0x6A, 0xF1, 0x01, 0x0C}, []byte{0x68, 0x6A, 0xF1, 0x01, 0x0C}},
		{passthru.ISO14230, 0, 0, []byte{0xC1, 0x33, 0xF1, 0x81}, []byte{0xC1, 0x33, 0xF1, 0x81}},
		{passthru.SCIAEngine, 0, 0, []byte{0x2A, 0x0F}, []byte{0x2A, 0x0F}},
		{passthru.SCIATrans, 0, 0, []byte{0x2A, 0x0F}, []byte{0x2A, 0x0F}},
		{passthru.SCIBEngine, 0, 0, []byte{0x22, 0x20, 0x07, 0x49}, []byte{0x22, 0x20, 0x07, 0x49}},
		{passthru.SCIBTrans, 0, 0, []byte{0x01, 0x00}, []byte{0x01, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.protocol.String(), func(t *testing.T) {
			buf, err := Encode(tt.protocol, tt.flags, tt.id, tt.payload)
			require.NoError(t, err)
			m, err := Decode(tt.protocol, buf)
			require.NoError(t, err)
			assert.Equal(t, tt.id, m.Identifier)
			assert.Equal(t, tt.want, m.Payload)
			assert.Equal(t, tt.protocol, m.Protocol)
		})
	}
}

func TestDecode_CopiesStatusAndTimestamp(t *testing.T) {
	buf, err := Encode(passthru.ISO15765, 0, 0x7E8, []byte{0x62, 0xF1, 0x90})
	require.NoError(t, err)
	buf.RxStatus = passthru.StartOfMessage
	buf.Timestamp = 123456

	m, err := Decode(passthru.ISO15765, buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(123456), m.Timestamp)
	assert.True(t, m.IsIndication())
}

func TestDecode_Invalid(t *testing.T) {
	short := &passthru.Msg{ProtocolID: passthru.CAN}
	require.NoError(t, short.SetBytes([]byte{0x07, 0xE8}))
	_, err := Decode(passthru.CAN, short)
	assert.True(t, errors.Is(err, InvalidArgument))

	huge := &passthru.Msg{ProtocolID: passthru.SCIAEngine, DataSize: passthru.DataCapacity + 1}
	_, err = Decode(passthru.SCIAEngine, huge)
	assert.True(t, errors.Is(err, InvalidArgument))

	other := &passthru.Msg{ProtocolID: passthru.CAN}
	require.NoError(t, other.SetBytes([]byte{0, 0, 7, 0xE8}))
	_, err = Decode(passthru.ISO15765, other)
	assert.True(t, errors.Is(err, ProtocolMismatch))

	_, err = Decode(passthru.CAN, nil)
	assert.Equal(t, NullParameter, KindOf(err))
}
