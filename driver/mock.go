package driver

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

// MockPassThru is an in-memory PassThru device.
// 用于开发和测试，不依赖实际硬件。Every call is recorded, statuses can be
// scripted per call and received frames are queued per channel.
type MockPassThru struct {
	mu sync.Mutex

	nextHandle uint32
	devices    map[uint32]bool
	channels   map[uint32]*mockChannel
	lastError  string

	// FixedHandle, when non-zero, is returned by every Open and Connect.
	FixedHandle uint32

	VBattMilliVolts uint32
	ProgMilliVolts  uint32
	FirmwareVersion string
	DLLVersion      string
	APIVersion      string
	ExtraIndication bool // queue a TX_MSG_TYPE echo ahead of every scripted response
	Responder       func(channelID uint32, msg passthru.Msg) []Reply
	responses       []MockResponse
	failNext        map[string][]passthru.Status
	calls           []string
	writeLog        []WriteRecord
	configLog       []passthru.ConfigItem
	progVoltageLog  []ProgVoltageRecord
}

// Reply is one scripted ReadMsgs result.
type Reply struct {
	Msgs   []passthru.Msg
	Status passthru.Status
}

// WriteRecord 记录一次写入操作
type WriteRecord struct {
	ChannelID uint32
	Msg       passthru.Msg
	Timestamp time.Time
}

// ProgVoltageRecord records one SetProgrammingVoltage call.
type ProgVoltageRecord struct {
	Pin       uint32
	MilliVolt uint32
}

// MockResponse 定义预设的自动响应
type MockResponse struct {
	TriggerData []byte // prefix of the written data, identifier included
	Replies     []Reply
}

type mockChannel struct {
	device   uint32
	protocol passthru.ProtocolID
	rx       []Reply
	filters  map[uint32]passthru.FilterType
	periodic map[uint32]passthru.Msg
	config   map[passthru.ConfigParam]uint32
}

// NewMockPassThru returns a device reporting 12.6 V on the battery pin.
func NewMockPassThru() *MockPassThru {
	return &MockPassThru{
		nextHandle:      1,
		devices:         make(map[uint32]bool),
		channels:        make(map[uint32]*mockChannel),
		VBattMilliVolts: 12600,
		FirmwareVersion: "1.00",
		DLLVersion:      "1.00",
		APIVersion:      "04.04",
		failNext:        make(map[string][]passthru.Status),
	}
}

// FailNext makes the next call to fn return status instead of executing.
// Repeated calls queue further failures.
func (m *MockPassThru) FailNext(fn string, status passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[fn] = append(m.failNext[fn], status)
}

// AddResponse queues replies on the writing channel whenever written data
// starts with trigger.
func (m *MockPassThru) AddResponse(trigger []byte, replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{TriggerData: append([]byte{}, trigger...), Replies: replies})
}

// ClearResponses 清除所有预设响应
func (m *MockPassThru) ClearResponses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
}

// QueueReply appends r to the receive queue of channelID.
func (m *MockPassThru) QueueReply(channelID uint32, r Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return fmt.Errorf("mock: channel %d not connected", channelID)
	}
	ch.rx = append(ch.rx, r)
	return nil
}

// GetWriteLog 获取写入日志
func (m *MockPassThru) GetWriteLog() []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WriteRecord{}, m.writeLog...)
}

// Calls returns the names of every native entry point invoked, in order.
func (m *MockPassThru) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

// CallCount counts invocations of fn.
func (m *MockPassThru) CallCount(fn string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == fn {
			n++
		}
	}
	return n
}

// ConfigLog returns every SET_CONFIG item received.
func (m *MockPassThru) ConfigLog() []passthru.ConfigItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]passthru.ConfigItem{}, m.configLog...)
}

// ProgVoltageLog returns every SetProgrammingVoltage call.
func (m *MockPassThru) ProgVoltageLog() []ProgVoltageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProgVoltageRecord{}, m.progVoltageLog...)
}

// ActiveFilters returns the number of filters on channelID.
func (m *MockPassThru) ActiveFilters(channelID uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return len(ch.filters)
	}
	return 0
}

// ActivePeriodic returns the number of periodic messages on channelID.
func (m *MockPassThru) ActivePeriodic(channelID uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		return len(ch.periodic)
	}
	return 0
}

// enter records fn and pops a scripted failure. Callers hold m.mu.
func (m *MockPassThru) enter(fn string) (passthru.Status, bool) {
	m.calls = append(m.calls, fn)
	q := m.failNext[fn]
	if len(q) == 0 {
		return passthru.StatusNoError, false
	}
	m.failNext[fn] = q[1:]
	m.lastError = fmt.Sprintf("%s: %s", fn, q[0].Description())
	return q[0], true
}

func (m *MockPassThru) fail(status passthru.Status, format string, args ...any) passthru.Status {
	m.lastError = fmt.Sprintf(format, args...)
	return status
}

func (m *MockPassThru) allocHandle() uint32 {
	if m.FixedHandle != 0 {
		return m.FixedHandle
	}
	h := m.nextHandle
	m.nextHandle++
	return h
}

func (m *MockPassThru) Open(name string) (uint32, passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("Open"); ok {
		return 0, st
	}
	h := m.allocHandle()
	m.devices[h] = true
	return h, passthru.StatusNoError
}

func (m *MockPassThru) Close(deviceID uint32) passthru.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("Close"); ok {
		return st
	}
	if !m.devices[deviceID] {
		return m.fail(passthru.ErrInvalidDeviceID, "device %d not open", deviceID)
	}
	delete(m.devices, deviceID)
	for id, ch := range m.channels {
		if ch.device == deviceID {
			delete(m.channels, id)
		}
	}
	return passthru.StatusNoError
}

func (m *MockPassThru) Connect(deviceID uint32, protocol passthru.ProtocolID, flags passthru.ConnectFlag, baudRate uint32) (uint32, passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("Connect"); ok {
		return 0, st
	}
	if !m.devices[deviceID] {
		return 0, m.fail(passthru.ErrInvalidDeviceID, "device %d not open", deviceID)
	}
	if !protocol.Valid() {
		return 0, m.fail(passthru.ErrInvalidProtocolID, "protocol %d", protocol)
	}
	h := m.allocHandle()
	m.channels[h] = &mockChannel{
		device:   deviceID,
		protocol: protocol,
		filters:  make(map[uint32]passthru.FilterType),
		periodic: make(map[uint32]passthru.Msg),
		config:   map[passthru.ConfigParam]uint32{passthru.DataRate: baudRate},
	}
	return h, passthru.StatusNoError
}

func (m *MockPassThru) Disconnect(channelID uint32) passthru.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("Disconnect"); ok {
		return st
	}
	if _, ok := m.channels[channelID]; !ok {
		return m.fail(passthru.ErrInvalidChannelID, "channel %d not connected", channelID)
	}
	delete(m.channels, channelID)
	return passthru.StatusNoError
}

func (m *MockPassThru) ReadMsgs(channelID uint32, msgs []passthru.Msg, timeoutMs uint32) (uint32, passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("ReadMsgs"); ok {
		return 0, st
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return 0, m.fail(passthru.ErrInvalidChannelID, "channel %d not connected", channelID)
	}
	if len(ch.rx) == 0 {
		if timeoutMs == 0 {
			return 0, passthru.ErrBufferEmpty
		}
		return 0, passthru.ErrTimeout
	}
	r := ch.rx[0]
	ch.rx = ch.rx[1:]
	n := copy(msgs, r.Msgs)
	return uint32(n), r.Status
}

func (m *MockPassThru) WriteMsgs(channelID uint32, msgs []passthru.Msg, timeoutMs uint32) (uint32, passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("WriteMsgs"); ok {
		return 0, st
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return 0, m.fail(passthru.ErrInvalidChannelID, "channel %d not connected", channelID)
	}
	for i := range msgs {
		msg := msgs[i]
		if msg.ProtocolID != ch.protocol {
			return uint32(i), m.fail(passthru.ErrMsgProtocolID, "message protocol %s on %s channel", msg.ProtocolID, ch.protocol)
		}
		m.writeLog = append(m.writeLog, WriteRecord{ChannelID: channelID, Msg: msg, Timestamp: time.Now()})
		m.respond(channelID, ch, msg)
	}
	return uint32(len(msgs)), passthru.StatusNoError
}

func (m *MockPassThru) respond(channelID uint32, ch *mockChannel, msg passthru.Msg) {
	data := msg.Bytes()
	var replies []Reply
	for _, resp := range m.responses {
		if bytes.HasPrefix(data, resp.TriggerData) {
			replies = append(replies, resp.Replies...)
		}
	}
	if m.Responder != nil {
		replies = append(replies, m.Responder(channelID, msg)...)
	}
	if len(replies) > 0 && m.ExtraIndication {
		echo := msg
		echo.RxStatus = passthru.TxMsgType
		ch.rx = append(ch.rx, Reply{Msgs: []passthru.Msg{echo}})
	}
	ch.rx = append(ch.rx, replies...)
}

func (m *MockPassThru) StartPeriodicMsg(channelID uint32, msg *passthru.Msg, intervalMs uint32) (uint32, passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("StartPeriodicMsg"); ok {
		return 0, st
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return 0, m.fail(passthru.ErrInvalidChannelID, "channel %d not connected", channelID)
	}
	if msg == nil {
		return 0, passthru.ErrNullParameter
	}
	if intervalMs < 5 || intervalMs > 65535 {
		return 0, m.fail(passthru.ErrInvalidTimeInterval, "interval %d ms", intervalMs)
	}
	id := m.allocHandle()
	ch.periodic[id] = *msg
	return id, passthru.StatusNoError
}

func (m *MockPassThru) StopPeriodicMsg(channelID uint32, msgID uint32) passthru.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("StopPeriodicMsg"); ok {
		return st
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return m.fail(passthru.ErrInvalidChannelID, "channel %d not connected", channelID)
	}
	if _, ok := ch.periodic[msgID]; !ok {
		return passthru.ErrInvalidMsgID
	}
	delete(ch.periodic, msgID)
	return passthru.StatusNoError
}

func (m *MockPassThru) StartMsgFilter(channelID uint32, kind passthru.FilterType, mask, pattern, flowControl *passthru.Msg) (uint32, passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("StartMsgFilter"); ok {
		return 0, st
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return 0, m.fail(passthru.ErrInvalidChannelID, "channel %d not connected", channelID)
	}
	if mask == nil || pattern == nil || (kind == passthru.FlowControlFilter && flowControl == nil) {
		return 0, passthru.ErrNullParameter
	}
	id := m.allocHandle()
	ch.filters[id] = kind
	return id, passthru.StatusNoError
}

func (m *MockPassThru) StopMsgFilter(channelID uint32, filterID uint32) passthru.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("StopMsgFilter"); ok {
		return st
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return m.fail(passthru.ErrInvalidChannelID, "channel %d not connected", channelID)
	}
	if _, ok := ch.filters[filterID]; !ok {
		return passthru.ErrInvalidFilterID
	}
	delete(ch.filters, filterID)
	return passthru.StatusNoError
}

func (m *MockPassThru) SetProgrammingVoltage(deviceID uint32, pin uint32, voltage uint32) passthru.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("SetProgrammingVoltage"); ok {
		return st
	}
	if !m.devices[deviceID] {
		return m.fail(passthru.ErrInvalidDeviceID, "device %d not open", deviceID)
	}
	m.progVoltageLog = append(m.progVoltageLog, ProgVoltageRecord{Pin: pin, MilliVolt: voltage})
	if voltage != passthru.VoltageOff && voltage != passthru.ShortToGround {
		m.ProgMilliVolts = voltage
	} else {
		m.ProgMilliVolts = 0
	}
	return passthru.StatusNoError
}

func (m *MockPassThru) ReadVersion(deviceID uint32) (string, string, string, passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("ReadVersion"); ok {
		return "", "", "", st
	}
	if !m.devices[deviceID] {
		return "", "", "", m.fail(passthru.ErrInvalidDeviceID, "device %d not open", deviceID)
	}
	return m.FirmwareVersion, m.DLLVersion, m.APIVersion, passthru.StatusNoError
}

func (m *MockPassThru) GetLastError() (string, passthru.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "GetLastError")
	return m.lastError, passthru.StatusNoError
}

func (m *MockPassThru) Ioctl(handleID uint32, ioctl passthru.IoctlID, input, output any) passthru.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.enter("Ioctl"); ok {
		return st
	}
	switch ioctl {
	case passthru.ReadVBatt, passthru.ReadProgVoltage:
		if !m.devices[handleID] {
			return m.fail(passthru.ErrInvalidDeviceID, "device %d not open", handleID)
		}
		out, ok := output.(*uint32)
		if !ok || out == nil {
			return passthru.ErrNullParameter
		}
		if ioctl == passthru.ReadVBatt {
			*out = m.VBattMilliVolts
		} else {
			*out = m.ProgMilliVolts
		}
		return passthru.StatusNoError
	}

	ch, ok := m.channels[handleID]
	if !ok {
		return m.fail(passthru.ErrInvalidChannelID, "channel %d not connected", handleID)
	}
	switch ioctl {
	case passthru.SetConfig, passthru.GetConfig:
		list, ok := input.(*passthru.ConfigList)
		if !ok || list == nil {
			return passthru.ErrNullParameter
		}
		for i := range list.Items {
			if ioctl == passthru.SetConfig {
				ch.config[list.Items[i].Parameter] = list.Items[i].Value
				m.configLog = append(m.configLog, list.Items[i])
				continue
			}
			v, ok := ch.config[list.Items[i].Parameter]
			if !ok {
				return passthru.ErrInvalidIoctlValue
			}
			list.Items[i].Value = v
		}
	case passthru.ClearRxBuffer:
		ch.rx = nil
	case passthru.ClearTxBuffer, passthru.ClearFunctMsgLookupTable:
	case passthru.ClearPeriodicMsgs:
		ch.periodic = make(map[uint32]passthru.Msg)
	case passthru.ClearMsgFilters:
		ch.filters = make(map[uint32]passthru.FilterType)
	case passthru.FastInit:
		if ch.protocol != passthru.ISO14230 {
			return passthru.ErrInvalidIoctlID
		}
		in, ok := input.(*passthru.Msg)
		out, ok2 := output.(*passthru.Msg)
		if !ok || !ok2 || in == nil || out == nil {
			return passthru.ErrNullParameter
		}
		*out = *in
		out.RxStatus = 0
		data := in.Bytes()
		if len(data) > 3 {
			// positive StartCommunication response echoes the header with SID+0x40
			resp := append([]byte{}, data...)
			resp[3] += 0x40
			_ = out.SetBytes(resp)
		}
	case passthru.FiveBaudInit:
		if ch.protocol != passthru.ISO9141 && ch.protocol != passthru.ISO14230 {
			return passthru.ErrInvalidIoctlID
		}
		out, ok := output.(*passthru.ByteArray)
		if !ok || out == nil {
			return passthru.ErrNullParameter
		}
		out.Bytes = []byte{0x55, 0x08, 0x08}
	default:
		return passthru.ErrInvalidIoctlID
	}
	return passthru.StatusNoError
}
