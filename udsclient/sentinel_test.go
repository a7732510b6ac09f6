package udsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/ptcomm/j2534"
)

func TestSentinel(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	s := NewSentinel(c)
	assert.Same(t, c, s.Client())

	// no answer: falsy result, error kept
	assert.Nil(t, s.TransmitAndReceive([]byte{0x3E, 0x00}, 2))
	assert.ErrorIs(t, s.Err(), j2534.ExhaustedRetries)
	assert.Equal(t, "", s.ReadVIN())
	assert.ErrorIs(t, s.Err(), j2534.ExhaustedRetries)

	answer(t, mock, []byte{0x3E, 0x00}, 0x7E, 0x00)
	assert.Equal(t, []byte{0x7E, 0x00}, s.TransmitAndReceive([]byte{0x3E, 0x00}, 1))
	assert.NoError(t, s.Err())

	answer(t, mock, []byte{0x10, 0x03}, 0x7F, 0x10, NRCConditionsNotCorrect)
	assert.False(t, s.StartSession(SessionExtended))
	var nr *NegativeResponse
	require.ErrorAs(t, s.Err(), &nr)
	assert.Equal(t, byte(NRCConditionsNotCorrect), nr.NRC)

	assert.InDelta(t, 12.6, s.BatteryVoltage(), 0.001)
	assert.True(t, s.TesterPresent(true))
	assert.True(t, s.Close())
	assert.False(t, s.Close())
	assert.ErrorIs(t, s.Err(), j2534.InvalidHandle)
}

func TestSentinel_SameErrorAsClient(t *testing.T) {
	c, _, _ := dialMock(t, "chrys1")
	s := NewSentinel(c)

	_, direct := c.TransmitAndReceive([]byte{0x3E, 0x00}, 0, 0)
	assert.Nil(t, s.TransmitAndReceive([]byte{0x3E, 0x00}, 0))
	assert.Equal(t, direct.Error(), s.Err().Error())
	assert.ErrorIs(t, s.Err(), j2534.InvalidArgument)
}
