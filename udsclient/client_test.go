package udsclient

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/j2534"
	"github.com/LoveWonYoung/ptcomm/passthru"
	"github.com/LoveWonYoung/ptcomm/profile"
)

type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (f *fakeTimer) count(d time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.waits {
		if w == d {
			n++
		}
	}
	return n
}

func lookup(t *testing.T, key string) profile.Profile {
	t.Helper()
	p, err := profile.Lookup(profile.Builtin(), key)
	require.NoError(t, err)
	return p
}

func frame(t *testing.T, protocol passthru.ProtocolID, id uint32, payload ...byte) passthru.Msg {
	t.Helper()
	m, err := j2534.Encode(protocol, 0, id, payload)
	require.NoError(t, err)
	return *m
}

func reply(msgs ...passthru.Msg) driver.Reply { return driver.Reply{Msgs: msgs} }

// dialMock connects key over a fresh mock with an instant timer.
func dialMock(t *testing.T, key string, opts ...Option) (*Client, *driver.MockPassThru, *fakeTimer) {
	t.Helper()
	mock := driver.NewMockPassThru()
	timer := &fakeTimer{}
	c, err := Dial(j2534.Config{Native: mock}, lookup(t, key), append([]Option{WithTimer(timer)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mock, timer
}

// ecu answers every ISO15765 request on 0x7E0 with the next scripted payload.
func ecu(t *testing.T, answers ...[]byte) func(uint32, passthru.Msg) []driver.Reply {
	var mu sync.Mutex
	return func(_ uint32, msg passthru.Msg) []driver.Reply {
		mu.Lock()
		defer mu.Unlock()
		if len(answers) == 0 {
			return nil
		}
		next := answers[0]
		answers = answers[1:]
		if next == nil {
			return nil
		}
		return []driver.Reply{reply(frame(t, passthru.ISO15765, 0x7E8, next...))}
	}
}

func writes(mock *driver.MockPassThru) int { return mock.CallCount("WriteMsgs") }

func TestDial_ISO15765(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	require.NotNil(t, c.Device())
	assert.Equal(t, passthru.ISO15765, c.Channel().Protocol())
	assert.True(t, c.Channel().Filters().HasFlowControl())
	assert.Equal(t, 1, mock.ActiveFilters(c.Channel().Channel().ID))
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 3, c.Options().Attempts)
}

func TestDial_SCIAppliesTiming(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys4")
	assert.Equal(t, passthru.SCIBEngine, c.Channel().Protocol())
	assert.False(t, c.Channel().Filters().HasFlowControl())
	assert.Len(t, c.Channel().Filters().Filters(), 1)
	assert.Subset(t, mock.ConfigLog(), []passthru.ConfigItem{
		{Parameter: passthru.T1Max, Value: 75},
		{Parameter: passthru.T2Max, Value: 5},
		{Parameter: passthru.T4Max, Value: 50},
		{Parameter: passthru.T5Max, Value: 1},
	})
}

func TestDial_BatteryOutOfRange(t *testing.T) {
	mock := driver.NewMockPassThru()
	mock.VBattMilliVolts = 10500
	_, err := Dial(j2534.Config{Native: mock}, lookup(t, "chrys1"))
	assert.ErrorIs(t, err, ErrBatteryVoltage)
	assert.Zero(t, mock.CallCount("Connect"))
	assert.Equal(t, 1, mock.CallCount("Close"))
}

func TestDial_ConnectFailureClosesDevice(t *testing.T) {
	mock := driver.NewMockPassThru()
	mock.FailNext("Connect", passthru.ErrDeviceNotConnected)
	_, err := Dial(j2534.Config{Native: mock}, lookup(t, "chrys1"))
	assert.ErrorIs(t, err, j2534.ErrChannelConnectFailed)
	assert.ErrorIs(t, err, j2534.DeviceNotConnected)
	assert.Equal(t, 1, mock.CallCount("Close"))
}

func TestDial_InvalidProfile(t *testing.T) {
	p := lookup(t, "chrys1")
	p.BaudRate = 1200
	mock := driver.NewMockPassThru()
	_, err := Dial(j2534.Config{Native: mock}, p)
	assert.Error(t, err)
	assert.Zero(t, mock.CallCount("Open"))
}

func TestNew_ProtocolMismatch(t *testing.T) {
	mock := driver.NewMockPassThru()
	dev, err := j2534.Open(j2534.Config{Native: mock})
	require.NoError(t, err)
	defer dev.Close()
	ch, err := dev.Connect(passthru.CAN, 0, 500000)
	require.NoError(t, err)

	_, err = New(ch, lookup(t, "chrys1"))
	assert.ErrorIs(t, err, j2534.ProtocolMismatch)
	_, err = New(nil, lookup(t, "chrys1"))
	assert.ErrorIs(t, err, j2534.NullParameter)
}

func TestTransmitAndReceive_Positive(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.AddResponse([]byte{0x00, 0x00, 0x07, 0xE0, 0x3E, 0x00},
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x7E, 0x00)))

	m, err := c.TransmitAndReceive([]byte{0x3E, 0x00}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7E8), m.Identifier)
	assert.Equal(t, []byte{0x7E, 0x00}, m.Payload)
	assert.Equal(t, 1, writes(mock))
	assert.Equal(t, StateIdle, c.State())

	// the request went out padded, with the profile's id
	log := mock.GetWriteLog()
	require.Len(t, log, 1)
	assert.Equal(t, []byte{0x00, 0x00, 0x07, 0xE0, 0x3E, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, log[0].Msg.Bytes())
}

func TestTransmitAndReceive_MissingFlowControl(t *testing.T) {
	mock := driver.NewMockPassThru()
	dev, err := j2534.Open(j2534.Config{Native: mock})
	require.NoError(t, err)
	defer dev.Close()
	ch, err := dev.Connect(passthru.ISO15765, 0, 500000)
	require.NoError(t, err)
	c, err := New(ch, lookup(t, "chrys1"), WithTimer(&fakeTimer{}))
	require.NoError(t, err)

	_, err = c.TransmitAndReceive([]byte{0x3E, 0x00}, 3, 0)
	assert.ErrorIs(t, err, j2534.MissingFlowControl)
	assert.Zero(t, writes(mock))
}

func TestTransmitAndReceive_InvalidArguments(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	_, err := c.TransmitAndReceive([]byte{0x3E, 0x00}, 0, 0)
	assert.ErrorIs(t, err, j2534.InvalidArgument)
	_, err = c.TransmitAndReceive(nil, 3, 0)
	assert.ErrorIs(t, err, j2534.InvalidArgument)
	assert.Zero(t, writes(mock))
}

func TestTransmitAndReceive_ExhaustsAttempts(t *testing.T) {
	c, mock, timer := dialMock(t, "chrys1")

	_, err := c.TransmitAndReceive([]byte{0x22, 0xF1, 0x90}, 3, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, j2534.ExhaustedRetries)
	assert.ErrorIs(t, err, j2534.Timeout)
	assert.False(t, j2534.IsRecoverable(err))
	assert.Equal(t, 3, writes(mock))
	assert.Equal(t, 3, mock.CallCount("Ioctl")-1, "one buffer clear per attempt plus the battery read")
	assert.Equal(t, 2, timer.count(100*time.Millisecond))
	assert.Equal(t, StateFailed, c.State())
	assert.ErrorContains(t, err, "no response to 22 after 3 attempts")
}

func TestTransmitAndReceive_WriteTimeouts(t *testing.T) {
	c, mock, timer := dialMock(t, "chrys1")
	for i := 0; i < 3; i++ {
		mock.FailNext("WriteMsgs", passthru.ErrTimeout)
	}

	_, err := c.TransmitAndReceive([]byte{0x3E, 0x00}, 3, 0)
	assert.ErrorIs(t, err, j2534.ExhaustedRetries)
	assert.ErrorIs(t, err, j2534.ErrTransmitFailed)
	assert.ErrorContains(t, err, "write of 3E timed out after 3 attempts")
	assert.NotContains(t, err.Error(), "no response")
	assert.Equal(t, 3, writes(mock))
	assert.Empty(t, mock.GetWriteLog())
	assert.Equal(t, 2, timer.count(100*time.Millisecond))
}

func TestTransmitAndReceive_WriteTimeoutThenNoAnswer(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.FailNext("WriteMsgs", passthru.ErrTimeout)

	_, err := c.TransmitAndReceive([]byte{0x3E, 0x00}, 2, 0)
	assert.ErrorContains(t, err, "no response to 3E after 2 attempts")
	assert.Len(t, mock.GetWriteLog(), 1)
}

func TestTransmitAndReceive_RecoversOnSecondAttempt(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.Responder = ecu(t, nil, []byte{0x50, 0x03})

	m, err := c.TransmitAndReceive([]byte{0x10, 0x03}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x50, 0x03}, m.Payload)
	assert.Equal(t, 2, writes(mock))
}

func TestTransmitAndReceive_BusyDoesNotConsumeAttempts(t *testing.T) {
	c, mock, timer := dialMock(t, "chrys1")
	busy := []byte{0x7F, 0x31, NRCBusyRepeatRequest}
	mock.Responder = ecu(t, busy, busy, []byte{0x71, 0x01, 0xFF, 0x00})

	m, err := c.TransmitAndReceive([]byte{0x31, 0x01, 0xFF, 0x00}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x71), m.Payload[0])
	assert.Equal(t, 3, writes(mock))
	assert.Equal(t, 2, timer.count(time.Second))
}

func TestTransmitAndReceive_BusyLimit(t *testing.T) {
	opts := DefaultRequestOptions()
	opts.MaxBusyWait = 3 * time.Second
	c, mock, timer := dialMock(t, "chrys1", WithRequestOptions(opts))
	mock.Responder = func(uint32, passthru.Msg) []driver.Reply {
		return []driver.Reply{reply(frame(t, passthru.ISO15765, 0x7E8, 0x7F, 0x31, NRCBusyRepeatRequest))}
	}

	_, err := c.TransmitAndReceive([]byte{0x31, 0x01, 0xFF, 0x00}, 3, 0)
	assert.ErrorIs(t, err, j2534.ExhaustedRetries)
	assert.NotErrorIs(t, err, j2534.Timeout)
	assert.Equal(t, 4, writes(mock))
	assert.Equal(t, 3, timer.count(time.Second))
}

func TestTransmitAndReceive_ResponsePending(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.AddResponse([]byte{0x00, 0x00, 0x07, 0xE0, 0x31},
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x7F, 0x31, NRCResponsePending)),
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x7F, 0x31, NRCResponsePending)),
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x71, 0x01, 0xFF, 0x00)))

	m, err := c.TransmitAndReceive([]byte{0x31, 0x01, 0xFF, 0x00}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x71, 0x01, 0xFF, 0x00}, m.Payload)
	assert.Equal(t, 1, writes(mock))
}

func TestTransmitAndReceive_PendingLimit(t *testing.T) {
	var now time.Time
	clock := func() time.Time {
		now = now.Add(4 * time.Second)
		return now
	}
	c, mock, _ := dialMock(t, "chrys1", WithClock(clock))
	pending := reply(frame(t, passthru.ISO15765, 0x7E8, 0x7F, 0x31, NRCResponsePending))
	mock.AddResponse([]byte{0x00, 0x00, 0x07, 0xE0, 0x31}, pending, pending, pending,
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x71, 0x01)))

	_, err := c.TransmitAndReceive([]byte{0x31, 0x01, 0xFF, 0x00}, 3, 0)
	assert.ErrorIs(t, err, j2534.ExhaustedRetries)
	assert.Equal(t, 1, writes(mock))
}

func TestTransmitAndReceive_OtherNegativeResponseReturned(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.Responder = ecu(t, []byte{0x7F, 0x27, NRCInvalidKey})

	m, err := c.TransmitAndReceive([]byte{0x27, 0x02, 0x00}, 3, 0)
	require.NoError(t, err)
	nr, ok := ParseNegativeResponse(m.Payload)
	require.True(t, ok)
	assert.Equal(t, byte(NRCInvalidKey), nr.NRC)
	assert.Equal(t, "invalid key", nr.Message)
	assert.False(t, nr.IsRetryable())
	assert.Equal(t, 1, writes(mock))
}

func TestTransmitAndReceive_SkipsIndications(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.ExtraIndication = true
	mock.Responder = ecu(t, []byte{0x7E, 0x00})

	m, err := c.TransmitAndReceive([]byte{0x3E, 0x00}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E, 0x00}, m.Payload)
}

func TestTransmitAndReceive_IndicationLimit(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.Responder = func(_ uint32, msg passthru.Msg) []driver.Reply {
		var out []driver.Reply
		for i := 0; i < 9; i++ {
			echo := msg
			echo.RxStatus = passthru.TxMsgType
			out = append(out, reply(echo))
		}
		return append(out, reply(frame(t, passthru.ISO15765, 0x7E8, 0x7E, 0x00)))
	}

	_, err := c.TransmitAndReceive([]byte{0x3E, 0x00}, 2, 0)
	assert.ErrorIs(t, err, j2534.ExhaustedRetries)
	assert.Equal(t, 2, writes(mock))
}

func TestTransmitAndReceive_IgnoresForeignAnswers(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.AddResponse([]byte{0x00, 0x00, 0x07, 0xE0, 0x22},
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x50, 0x01)),
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x62, 0xF1, 0x8C, 0x31)))

	m, err := c.TransmitAndReceive([]byte{0x22, 0xF1, 0x8C}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0x62), m.Payload[0])
}

func TestTransmitAndReceive_IgnoresForeignNegativeResponse(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.AddResponse([]byte{0x00, 0x00, 0x07, 0xE0, 0x22},
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x7F, 0x3E, NRCServiceNotSupported)),
		reply(frame(t, passthru.ISO15765, 0x7E8, 0x62, 0xF1, 0x8C, 0x31)))

	m, err := c.TransmitAndReceive([]byte{0x22, 0xF1, 0x8C}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x62, 0xF1, 0x8C, 0x31}, m.Payload)
}

func TestTransmitAndReceive_ForeignBusyIsNotOurs(t *testing.T) {
	c, mock, timer := dialMock(t, "chrys1")
	mock.Responder = ecu(t, []byte{0x7F, 0x3E, NRCBusyRepeatRequest})

	_, err := c.TransmitAndReceive([]byte{0x22, 0xF1, 0x8C}, 1, 0)
	assert.ErrorIs(t, err, j2534.ExhaustedRetries)
	assert.Equal(t, 1, writes(mock))
	assert.Zero(t, timer.count(time.Second))
}

func TestTransmitAndReceive_NativeFailurePropagates(t *testing.T) {
	c, mock, timer := dialMock(t, "chrys1")
	mock.FailNext("WriteMsgs", passthru.ErrDeviceNotConnected)

	_, err := c.TransmitAndReceive([]byte{0x3E, 0x00}, 3, 0)
	assert.ErrorIs(t, err, j2534.ErrTransmitFailed)
	assert.ErrorIs(t, err, j2534.DeviceNotConnected)
	assert.Zero(t, timer.count(100*time.Millisecond))
}

func sciEcu(t *testing.T, protocol passthru.ProtocolID, answer ...byte) func(uint32, passthru.Msg) []driver.Reply {
	return func(_ uint32, msg passthru.Msg) []driver.Reply {
		if msg.ProtocolID != protocol {
			return nil
		}
		return []driver.Reply{reply(frame(t, protocol, 0, answer...))}
	}
}

func TestTransmitAndReceive_SCI(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys3")
	mock.Responder = sciEcu(t, passthru.SCIAEngine, 0x2A, 0x0F, 0x42)

	m, err := c.CheckCommunication()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2A, 0x0F, 0x42}, m.Payload)
	assert.Zero(t, m.Identifier)

	log := mock.GetWriteLog()
	require.NotEmpty(t, log)
	assert.Equal(t, []byte{0x2A, 0x0F}, log[len(log)-1].Msg.Bytes())
}

func TestTransmitAndReceive_SCIEchoOnlyIsNoAnswer(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys3")
	mock.Responder = sciEcu(t, passthru.SCIAEngine, 0x2A)

	_, err := c.TransmitAndReceive([]byte{0x2A, 0x0F}, 2, 0)
	assert.ErrorIs(t, err, j2534.ExhaustedRetries)
	assert.Equal(t, 2, writes(mock))
}

func TestTransmitOnlyAndReceiveOnly(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	mock.Responder = ecu(t, []byte{0x62, 0xF1, 0x90, 0x41})

	require.NoError(t, c.TransmitOnly([]byte{0x22, 0xF1, 0x90}))
	m, err := c.ReceiveOnly([]byte{0x22, 0xF1, 0x90}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x62, 0xF1, 0x90, 0x41}, m.Payload)

	_, err = c.ReceiveOnly([]byte{0x22, 0xF1, 0x90}, 10*time.Millisecond)
	assert.ErrorIs(t, err, j2534.Timeout)
	assert.Error(t, c.TransmitOnly(nil))
}

func TestClose(t *testing.T) {
	c, mock, _ := dialMock(t, "chrys1")
	require.NoError(t, c.Close())
	assert.True(t, c.Device().Closed())
	assert.Equal(t, 1, mock.CallCount("Disconnect"))

	_, err := c.TransmitAndReceive([]byte{0x3E, 0x00}, 1, 0)
	assert.ErrorIs(t, err, j2534.InvalidHandle)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "AWAITING_RESPONSE", StateAwaitingResponse.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestMessageUsesProfile(t *testing.T) {
	c, _, _ := dialMock(t, "chrys2")
	m := c.Message([]byte{0x1A, 0x87})
	assert.Equal(t, uint32(0x18DA10F1), m.Identifier)
	assert.Equal(t, passthru.TxCAN29BitID|passthru.ISO15765FramePad, m.TxFlags)
	assert.True(t, bytes.Equal([]byte{0x1A, 0x87}, m.Payload))
}
