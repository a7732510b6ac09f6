package j2534

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

func TestStartECUFilter_ISO15765(t *testing.T) {
	s, mock := openMock(t)
	ch, err := s.Connect(passthru.ISO15765, 0, 500000)
	require.NoError(t, err)
	assert.False(t, ch.Filters().HasFlowControl())

	f, err := ch.Filters().StartECUFilter(0xFFFFFFFF, 0x7E8, 0x7E0)
	require.NoError(t, err)
	assert.Equal(t, passthru.FlowControlFilter, f.Kind)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, f.Mask)
	assert.Equal(t, []byte{0x00, 0x00, 0x07, 0xE8}, f.Pattern)
	assert.Equal(t, []byte{0x00, 0x00, 0x07, 0xE0}, f.FlowControl)
	assert.Equal(t, ch.Channel(), f.Channel)
	assert.True(t, ch.Filters().HasFlowControl())
	assert.Equal(t, 1, mock.ActiveFilters(ch.Channel().ID))

	found, ok := ch.Filters().Find([]byte{0x00, 0x00, 0x07, 0xE8})
	assert.True(t, ok)
	assert.Equal(t, f.ID, found.ID)

	require.NoError(t, ch.Filters().StopFilter(f))
	assert.False(t, ch.Filters().HasFlowControl())
	assert.ErrorIs(t, ch.Filters().StopFilter(f), InvalidHandle)
}

func TestStartECUFilter_RejectsNonISO15765(t *testing.T) {
	s, mock := openMock(t)
	for _, p := range []passthru.ProtocolID{passthru.CAN, passthru.J1850VPW, passthru.SCIAEngine} {
		baud := uint32(500000)
		switch p {
		case passthru.J1850VPW:
			baud = 10400
		case passthru.SCIAEngine:
			baud = 7813
		}
		ch, err := s.Connect(p, 0, baud)
		require.NoError(t, err)
		_, err = ch.Filters().StartECUFilter(0xFFFFFFFF, 0x7E8, 0x7E0)
		assert.ErrorIs(t, err, ProtocolMismatch, p.String())
	}
	assert.Zero(t, mock.CallCount("StartMsgFilter"))
}

func TestStartMessageFilter_Validation(t *testing.T) {
	s, mock := openMock(t)
	iso, err := s.Connect(passthru.ISO15765, 0, 500000)
	require.NoError(t, err)
	can, err := s.Connect(passthru.CAN, 0, 500000)
	require.NoError(t, err)

	mask := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	pattern := []byte{0x00, 0x00, 0x07, 0xE8}
	fc := []byte{0x00, 0x00, 0x07, 0xE0}

	tests := []struct {
		name string
		ch   *ChannelSession
		kind passthru.FilterType
		mask []byte
		pat  []byte
		fc   []byte
		want Kind
	}{
		{"flow control without pattern", iso, passthru.FlowControlFilter, mask, pattern, nil, InvalidArgument},
		{"pass with flow control", can, passthru.PassFilter, mask, pattern, fc, InvalidArgument},
		{"flow control on CAN", can, passthru.FlowControlFilter, mask, pattern, fc, ProtocolMismatch},
		{"length mismatch", can, passthru.PassFilter, mask, pattern[:2], nil, InvalidArgument},
		{"empty mask", can, passthru.BlockFilter, nil, nil, nil, InvalidArgument},
		{"unknown type", can, passthru.FilterType(9), mask, pattern, nil, InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.ch.Filters().StartMessageFilter(tt.kind, tt.mask, tt.pat, tt.fc)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, mock.CallCount("StartMsgFilter"))

	f, err := can.Filters().StartMessageFilter(passthru.PassFilter, mask, pattern, nil)
	require.NoError(t, err)
	assert.Nil(t, f.FlowControl)
	assert.False(t, can.Filters().HasFlowControl())

	f, err = iso.Filters().StartMessageFilter(passthru.FlowControlFilter, mask, pattern, fc)
	require.NoError(t, err)
	assert.True(t, iso.Filters().HasFlowControl())
	assert.Len(t, iso.Filters().Filters(), 1)
}

func TestStartMessageFilter_LegacyCompactIDs(t *testing.T) {
	s, _ := openMock(t)
	ch, err := s.Connect(passthru.SCIBEngine, 0, 7813)
	require.NoError(t, err)

	f, err := ch.Filters().StartMessageFilter(passthru.PassFilter, []byte{0x00}, []byte{0x00}, nil)
	require.NoError(t, err)
	assert.Equal(t, passthru.PassFilter, f.Kind)
}

func TestStartFilter_NativeFailure(t *testing.T) {
	s, mock := openMock(t)
	ch, err := s.Connect(passthru.ISO15765, 0, 500000)
	require.NoError(t, err)

	mock.FailNext("StartMsgFilter", passthru.ErrExceededLimit)
	_, err = ch.Filters().StartECUFilter(0xFFFFFFFF, 0x7E8, 0x7E0)
	assert.ErrorIs(t, err, ErrFilterFailed)
	assert.ErrorIs(t, err, ExceededLimit)
	assert.Empty(t, ch.Filters().Filters())
}

func TestFilters_ClearAll(t *testing.T) {
	s, mock := openMock(t)
	ch, err := s.Connect(passthru.ISO15765, 0, 500000)
	require.NoError(t, err)
	_, err = ch.Filters().StartECUFilter(0xFFFFFFFF, 0x7E8, 0x7E0)
	require.NoError(t, err)
	_, err = ch.Filters().StartECUFilter(0xFFFFFFFF, 0x18DAF110, 0x18DA10F1)
	require.NoError(t, err)
	assert.Len(t, ch.Filters().Filters(), 2)

	require.NoError(t, ch.Filters().ClearAll())
	assert.Empty(t, ch.Filters().Filters())
	assert.Zero(t, mock.ActiveFilters(ch.Channel().ID))
}
