package j2534

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

// Channel is the value record of a connected protocol channel.
type Channel struct {
	ID       uint32
	Protocol passthru.ProtocolID
	BaudRate uint32
	Flags    passthru.ConnectFlag
	Device   Device
}

// ChannelSession drives one protocol channel. All native calls go through
// the owning DeviceSession lock.
type ChannelSession struct {
	dev      *DeviceSession
	ch       Channel
	closed   bool
	filters  *FilterManager
	periodic map[uint32]Message
	log      *slog.Logger
}

func newChannelSession(dev *DeviceSession, ch Channel) *ChannelSession {
	c := &ChannelSession{
		dev:      dev,
		ch:       ch,
		periodic: make(map[uint32]Message),
		log:      dev.log.With("channel", ch.ID),
	}
	c.filters = &FilterManager{c: c, filters: make(map[uint32]Filter)}
	return c
}

// Channel returns the value record of the session.
func (c *ChannelSession) Channel() Channel { return c.ch }

// Protocol returns the protocol the channel was connected with.
func (c *ChannelSession) Protocol() passthru.ProtocolID { return c.ch.Protocol }

// Filters returns the filter manager of the channel.
func (c *ChannelSession) Filters() *FilterManager { return c.filters }

// Logger returns the channel logger.
func (c *ChannelSession) Logger() *slog.Logger { return c.log }

// Closed reports whether the channel was disconnected or its device closed.
func (c *ChannelSession) Closed() bool {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.closed || c.dev.closed
}

// invalidate drops every handle owned by the channel. Callers hold dev.mu.
func (c *ChannelSession) invalidate() {
	c.closed = true
	c.filters.filters = make(map[uint32]Filter)
	c.periodic = make(map[uint32]Message)
}

func (c *ChannelSession) checkOpen(op Op) error {
	if c.closed || c.dev.closed {
		return localError(op, InvalidHandle, "channel %d is no longer connected", c.ch.ID)
	}
	return nil
}

func millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}

func (c *ChannelSession) dump(dir string, m Message) {
	if c.dev.cfg.Debug {
		c.log.Debug(dir, "msg", m.String(), "rx_status", fmt.Sprintf("0x%X", m.RxStatus), "ts", m.Timestamp)
	}
}

// Disconnect stops every filter and periodic message owned by the channel,
// then disconnects the native channel.
func (c *ChannelSession) Disconnect() error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpDisconnect); err != nil {
		return err
	}

	native := c.dev.native
	for id := range c.periodic {
		if st := native.StopPeriodicMsg(c.ch.ID, id); st != passthru.StatusNoError {
			c.log.Warn("stop periodic message failed", "msg_id", id, "status", st.String())
		}
	}
	for _, f := range c.filters.sorted() {
		if st := native.StopMsgFilter(c.ch.ID, f.ID); st != passthru.StatusNoError {
			c.log.Warn("stop filter failed", "filter", f.ID, "status", st.String())
		}
	}
	if st := native.Disconnect(c.ch.ID); st != passthru.StatusNoError {
		return c.dev.fail(OpDisconnect, st)
	}
	c.invalidate()
	delete(c.dev.channels, c.ch.ID)
	c.log.Info("channel disconnected")
	return nil
}

func (c *ChannelSession) ioctl(id passthru.IoctlID, in, out any) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpIoctl); err != nil {
		return err
	}
	return c.ioctlLocked(id, in, out)
}

func (c *ChannelSession) ioctlLocked(id passthru.IoctlID, in, out any) error {
	if st := c.dev.native.Ioctl(c.ch.ID, id, in, out); st != passthru.StatusNoError {
		return c.dev.fail(OpIoctl, st)
	}
	return nil
}

// ClearReceiveBuffer flushes frames the device has queued for this channel.
func (c *ChannelSession) ClearReceiveBuffer() error {
	return c.ioctl(passthru.ClearRxBuffer, nil, nil)
}

// ClearTransmitBuffer drops frames not yet sent.
func (c *ChannelSession) ClearTransmitBuffer() error {
	return c.ioctl(passthru.ClearTxBuffer, nil, nil)
}

// SetConfig writes channel parameters with SET_CONFIG.
func (c *ChannelSession) SetConfig(items ...passthru.ConfigItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.ioctl(passthru.SetConfig, &passthru.ConfigList{Items: items}, nil); err != nil {
		return err
	}
	for _, it := range items {
		c.log.Debug("config set", "param", uint32(it.Parameter), "value", it.Value)
	}
	return nil
}

// GetConfig reads channel parameters with GET_CONFIG.
func (c *ChannelSession) GetConfig(params ...passthru.ConfigParam) ([]passthru.ConfigItem, error) {
	list := &passthru.ConfigList{Items: make([]passthru.ConfigItem, len(params))}
	for i, p := range params {
		list.Items[i].Parameter = p
	}
	if err := c.ioctl(passthru.GetConfig, list, nil); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Write transmits one message. The message protocol must match the channel.
func (c *ChannelSession) Write(m Message, timeout time.Duration) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpWriteMsgs); err != nil {
		return err
	}
	if m.Protocol != c.ch.Protocol {
		return localError(OpWriteMsgs, ProtocolMismatch, "%s message on %s channel", m.Protocol, c.ch.Protocol)
	}
	buf, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	n, st := c.dev.native.WriteMsgs(c.ch.ID, []passthru.Msg{*buf}, millis(timeout))
	if st != passthru.StatusNoError {
		return c.dev.fail(OpWriteMsgs, st)
	}
	if n == 0 {
		return localError(OpWriteMsgs, Timeout, "device accepted no message within %s", timeout)
	}
	c.dump("tx", m)
	return nil
}

// Read waits up to timeout for one message. An empty buffer or a native
// timeout both yield a Timeout error.
func (c *ChannelSession) Read(timeout time.Duration) (Message, error) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpReadMsgs); err != nil {
		return Message{}, err
	}
	buf := make([]passthru.Msg, 1)
	n, st := c.dev.native.ReadMsgs(c.ch.ID, buf, millis(timeout))
	if n == 0 {
		switch st {
		case passthru.StatusNoError, passthru.ErrTimeout, passthru.ErrBufferEmpty:
			return Message{}, &Error{Op: OpReadMsgs, Kind: Timeout, Code: st, Detail: fmt.Sprintf("no message within %s", timeout)}
		}
	}
	if st != passthru.StatusNoError && st != passthru.ErrTimeout && st != passthru.ErrBufferEmpty {
		return Message{}, c.dev.fail(OpReadMsgs, st)
	}
	m, err := Decode(c.ch.Protocol, &buf[0])
	if err != nil {
		return Message{}, err
	}
	c.dump("rx", m)
	return m, nil
}

// StartPeriodic makes the device transmit m every interval (5 ms to 65535 ms).
func (c *ChannelSession) StartPeriodic(m Message, interval time.Duration) (uint32, error) {
	ms := millis(interval)
	if ms < 5 || ms > 65535 {
		return 0, localError(OpStartPeriodicMsg, InvalidTimeInterval, "interval %s", interval)
	}

	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpStartPeriodicMsg); err != nil {
		return 0, err
	}
	if m.Protocol != c.ch.Protocol {
		return 0, localError(OpStartPeriodicMsg, ProtocolMismatch, "%s message on %s channel", m.Protocol, c.ch.Protocol)
	}
	buf, err := EncodeMessage(m)
	if err != nil {
		return 0, err
	}
	id, st := c.dev.native.StartPeriodicMsg(c.ch.ID, buf, ms)
	if st != passthru.StatusNoError {
		return 0, c.dev.fail(OpStartPeriodicMsg, st)
	}
	if _, live := c.periodic[id]; live {
		return 0, localError(OpStartPeriodicMsg, InvalidHandle, "native library returned periodic message %d which is still running", id)
	}
	c.periodic[id] = m
	c.log.Info("periodic message started", "msg_id", id, "interval_ms", ms)
	return id, nil
}

// StopPeriodic stops a message started with StartPeriodic.
func (c *ChannelSession) StopPeriodic(id uint32) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpStopPeriodicMsg); err != nil {
		return err
	}
	if _, ok := c.periodic[id]; !ok {
		return localError(OpStopPeriodicMsg, InvalidHandle, "periodic message %d not running on channel %d", id, c.ch.ID)
	}
	if st := c.dev.native.StopPeriodicMsg(c.ch.ID, id); st != passthru.StatusNoError {
		return c.dev.fail(OpStopPeriodicMsg, st)
	}
	delete(c.periodic, id)
	return nil
}

// ClearPeriodicMessages stops every periodic message of the channel.
func (c *ChannelSession) ClearPeriodicMessages() error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpIoctl); err != nil {
		return err
	}
	if err := c.ioctlLocked(passthru.ClearPeriodicMsgs, nil, nil); err != nil {
		return err
	}
	c.periodic = make(map[uint32]Message)
	return nil
}

// FastInit performs the ISO14230 fast initialization and returns the ECU's
// StartCommunication response.
func (c *ChannelSession) FastInit(m Message) (Message, error) {
	if c.ch.Protocol != passthru.ISO14230 {
		return Message{}, localError(OpIoctl, ProtocolMismatch, "fast init needs an ISO14230 channel, have %s", c.ch.Protocol)
	}
	if m.Protocol != c.ch.Protocol {
		return Message{}, localError(OpIoctl, ProtocolMismatch, "%s message on %s channel", m.Protocol, c.ch.Protocol)
	}
	in, err := EncodeMessage(m)
	if err != nil {
		return Message{}, err
	}
	out := &passthru.Msg{ProtocolID: c.ch.Protocol}
	if err := c.ioctl(passthru.FastInit, in, out); err != nil {
		return Message{}, err
	}
	return Decode(c.ch.Protocol, out)
}

// FiveBaudInit performs the ISO9141 / ISO14230 5 baud initialization of
// address and returns the key bytes.
func (c *ChannelSession) FiveBaudInit(address byte) ([]byte, error) {
	if c.ch.Protocol != passthru.ISO9141 && c.ch.Protocol != passthru.ISO14230 {
		return nil, localError(OpIoctl, ProtocolMismatch, "5 baud init needs a K-line channel, have %s", c.ch.Protocol)
	}
	out := &passthru.ByteArray{}
	if err := c.ioctl(passthru.FiveBaudInit, &passthru.ByteArray{Bytes: []byte{address}}, out); err != nil {
		return nil, err
	}
	return out.Bytes, nil
}
