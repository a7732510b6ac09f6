package udsclient

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/j2534"
	"github.com/LoveWonYoung/ptcomm/passthru"
	"github.com/LoveWonYoung/ptcomm/profile"
)

// ErrBatteryVoltage is returned by Dial when the vehicle supply is outside
// RequestOptions.MinVolts..MaxVolts.
var ErrBatteryVoltage = errors.New("battery voltage out of range")

// RequestOptions 请求配置选项
type RequestOptions struct {
	Timeout        time.Duration // 单次请求超时, 0 uses the profile RxTimeout
	Attempts       int           // TransmitAndReceive attempts used by the service wrappers
	RetryDelay     time.Duration // 重试间隔
	BusyDelay      time.Duration // wait after NRC 0x21 before retransmitting
	PendingTimeout time.Duration // read timeout after NRC 0x78
	MaxBusyWait    time.Duration // cumulative busy and pending budget per exchange
	MaxIndications int           // loopback and first-frame indications skipped per attempt

	// Dial refuses to connect outside this supply range (volts, exclusive).
	MinVolts float64
	MaxVolts float64
}

// DefaultRequestOptions 返回默认请求选项
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		Timeout:        0,
		Attempts:       3,
		RetryDelay:     100 * time.Millisecond,
		BusyDelay:      1 * time.Second,
		PendingTimeout: 5 * time.Second,
		MaxBusyWait:    10 * time.Second,
		MaxIndications: 8,
		MinVolts:       11.0,
		MaxVolts:       14.7,
	}
}

// State of the request/response state machine.
type State uint32

const (
	StateIdle State = iota
	StateSent
	StateAwaitingResponse
	StateReceived
	StateTimedOut
	StateBusyRetry
	StateFailed
)

var stateNames = [...]string{
	StateIdle:             "IDLE",
	StateSent:             "SENT",
	StateAwaitingResponse: "AWAITING_RESPONSE",
	StateReceived:         "RECEIVED",
	StateTimedOut:         "TIMED_OUT",
	StateBusyRetry:        "BUSY_RETRY",
	StateFailed:           "FAILED",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// wallTimer is the retry.Timer used outside tests.
type wallTimer struct{}

func (wallTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Option configures a Client.
type Option func(*Client)

// WithRequestOptions replaces DefaultRequestOptions.
func WithRequestOptions(o RequestOptions) Option {
	return func(c *Client) { c.opts = o }
}

// WithTimer replaces the wall clock timer used for retry, busy and backoff waits.
func WithTimer(t retry.Timer) Option {
	return func(c *Client) {
		if t != nil {
			c.timer = t
		}
	}
}

// WithClock replaces time.Now when charging response-pending waits.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client 是一个高级客户端，封装了 PassThru 设备、通道和过滤器的初始化以及带重试的请求/响应.
type Client struct {
	mu    sync.Mutex // one exchange at a time
	dev   *j2534.DeviceSession
	ch    *j2534.ChannelSession
	prof  profile.Profile
	opts  RequestOptions
	timer retry.Timer
	now   func() time.Time
	log   *slog.Logger
	state atomic.Uint32
}

func newClient(opts []Option) *Client {
	c := &Client{
		opts:  DefaultRequestOptions(),
		timer: wallTimer{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) attach(ch *j2534.ChannelSession, p profile.Profile) error {
	if ch == nil {
		return &j2534.Error{Op: j2534.OpConnect, Kind: j2534.NullParameter, Detail: "nil channel"}
	}
	if p.Protocol != ch.Protocol() {
		return &j2534.Error{Op: j2534.OpConnect, Kind: j2534.ProtocolMismatch,
			Detail: fmt.Sprintf("profile %s is %s, channel is %s", p.Key, p.Protocol, ch.Protocol())}
	}
	c.ch = ch
	c.prof = p
	c.log = ch.Logger().With("profile", p.Key)
	return nil
}

// New builds a Client on an already connected channel. Close disconnects
// the channel but leaves the device open.
func New(ch *j2534.ChannelSession, p profile.Profile, opts ...Option) (*Client, error) {
	c := newClient(opts)
	if err := c.attach(ch, p); err != nil {
		return nil, err
	}
	return c, nil
}

// Dial opens the device described by cfg and prepares a channel for p:
// battery check, connect, SCI timing and the receive filter.
func Dial(cfg j2534.Config, p profile.Profile, opts ...Option) (*Client, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	dev, err := j2534.Open(cfg)
	if err != nil {
		return nil, err
	}
	c := newClient(opts)
	if err := c.setup(dev, p); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) setup(dev *j2534.DeviceSession, p profile.Profile) error {
	volts, err := dev.ReadBatteryVoltage()
	if err != nil {
		return err
	}
	if volts <= c.opts.MinVolts || volts >= c.opts.MaxVolts {
		return fmt.Errorf("%w: %.2f V, want %.1f..%.1f V", ErrBatteryVoltage, volts, c.opts.MinVolts, c.opts.MaxVolts)
	}

	ch, err := dev.Connect(p.Protocol, p.ConnectFlags, p.BaudRate)
	if err != nil {
		return err
	}
	if items := p.ConfigItems(); len(items) > 0 {
		if err := ch.SetConfig(items...); err != nil {
			return err
		}
	}
	if err := installFilter(ch, p); err != nil {
		return err
	}
	if err := c.attach(ch, p); err != nil {
		return err
	}
	c.dev = dev
	c.log.Info("connected", "protocol", p.Protocol.String(), "baud", p.BaudRate, "volts", volts)
	return nil
}

// installFilter lets the profile's responses through: a flow control filter
// on ISO15765, a pass filter everywhere else.
func installFilter(ch *j2534.ChannelSession, p profile.Profile) error {
	fm := ch.Filters()
	switch {
	case p.Protocol == passthru.ISO15765:
		_, err := fm.StartECUFilter(p.Mask, p.RxIdentifier, p.TxIdentifier)
		return err
	case p.Protocol == passthru.CAN:
		_, err := fm.StartMessageFilter(passthru.PassFilter, driver.IntToBig(p.Mask), driver.IntToBig(p.RxIdentifier), nil)
		return err
	}
	mask, pattern := driver.CompactID(p.Mask), driver.CompactID(p.RxIdentifier)
	if len(mask) != len(pattern) {
		mask, pattern = driver.IntToBig(p.Mask), driver.IntToBig(p.RxIdentifier)
	}
	_, err := fm.StartMessageFilter(passthru.PassFilter, mask, pattern, nil)
	return err
}

// Profile returns the connection profile of the client.
func (c *Client) Profile() profile.Profile { return c.prof }

// Channel returns the underlying channel session.
func (c *Client) Channel() *j2534.ChannelSession { return c.ch }

// Device returns the device session opened by Dial, nil for New.
func (c *Client) Device() *j2534.DeviceSession { return c.dev }

// Options returns the request options in effect.
func (c *Client) Options() RequestOptions { return c.opts }

// State returns the current state of the request state machine.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(uint32(s)))
	if prev != s {
		c.log.Debug("state", "from", prev.String(), "to", s.String())
	}
}

// Message wraps payload for the client's channel with the profile's tx flags
// and request identifier.
func (c *Client) Message(payload []byte) j2534.Message {
	m := j2534.Message{
		Protocol: c.ch.Protocol(),
		TxFlags:  c.prof.TxFlags,
		Payload:  payload,
	}
	if m.Protocol.IsCANFamily() {
		m.Identifier = c.prof.TxIdentifier
	}
	return m
}

func (c *Client) rxTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout > 0:
		return timeout
	case c.opts.Timeout > 0:
		return c.opts.Timeout
	case c.prof.RxTimeout > 0:
		return c.prof.RxTimeout
	}
	return 500 * time.Millisecond
}

// Transmit writes one message.
func (c *Client) Transmit(m j2534.Message, timeout time.Duration) error {
	return c.ch.Write(m, timeout)
}

// Receive reads one message. An empty buffer is a recoverable Timeout.
func (c *Client) Receive(timeout time.Duration) (j2534.Message, error) {
	return c.ch.Read(c.rxTimeout(timeout))
}

// TransmitOnly writes payload without waiting for an answer.
func (c *Client) TransmitOnly(payload []byte) error {
	if len(payload) == 0 {
		return exchangeError(j2534.InvalidArgument, nil, "empty request")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Transmit(c.Message(payload), c.prof.TxTimeout); err != nil {
		c.setState(StateFailed)
		return err
	}
	c.setState(StateIdle)
	return nil
}

// ReceiveOnly waits once for the answer to a request sent earlier with TransmitOnly.
func (c *Client) ReceiveOnly(request []byte, timeout time.Duration) (j2534.Message, error) {
	if len(request) == 0 {
		return j2534.Message{}, exchangeError(j2534.InvalidArgument, nil, "empty request")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	x := &exchange{c: c, payload: request, timeout: c.rxTimeout(timeout)}
	m, err := x.await()
	if errors.Is(err, errBusy) {
		// nothing to repeat here, hand the NRC to the caller
		err = nil
	}
	c.finish(err)
	return m, err
}

// TransmitAndReceive sends payload and waits for the matching answer, retrying
// up to maxAttempts times when no answer arrives. Busy and response pending
// answers do not consume attempts. Any other negative response is returned as
// a normal message.
func (c *Client) TransmitAndReceive(payload []byte, maxAttempts int, timeout time.Duration) (j2534.Message, error) {
	if maxAttempts < 1 {
		return j2534.Message{}, exchangeError(j2534.InvalidArgument, nil, "max attempts %d, need at least 1", maxAttempts)
	}
	if len(payload) == 0 {
		return j2534.Message{}, exchangeError(j2534.InvalidArgument, nil, "empty request")
	}
	if c.ch.Closed() {
		return j2534.Message{}, exchangeError(j2534.InvalidHandle, nil, "channel %d is no longer connected", c.ch.Channel().ID)
	}
	if c.ch.Protocol() == passthru.ISO15765 && !c.ch.Filters().HasFlowControl() {
		return j2534.Message{}, exchangeError(j2534.MissingFlowControl, nil, "channel %d has no flow control filter", c.ch.Channel().ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	x := &exchange{c: c, payload: payload, timeout: c.rxTimeout(timeout)}
	m, err := retry.DoWithData(x.attempt,
		retry.Attempts(uint(maxAttempts)),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(j2534.IsRecoverable),
		retry.WithTimer(c.timer),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("no response", "attempt", n+1, "of", maxAttempts, "err", err)
		}),
	)
	if err != nil && j2534.IsRecoverable(err) {
		if x.step == stepWrite {
			err = exchangeError(j2534.ExhaustedRetries, err, "write of %02X timed out after %d attempts", payload[0], x.attempts)
		} else {
			err = exchangeError(j2534.ExhaustedRetries, err, "no response to %02X after %d attempts", payload[0], x.attempts)
		}
	}
	c.finish(err)
	return m, err
}

func (c *Client) finish(err error) {
	if err != nil {
		c.setState(StateFailed)
		c.log.Warn("request failed", "err", err)
		return
	}
	c.setState(StateIdle)
}

func exchangeError(kind j2534.Kind, cause error, format string, args ...any) *j2534.Error {
	return &j2534.Error{Op: j2534.OpTransmitAndReceive, Kind: kind, Detail: fmt.Sprintf(format, args...), Err: cause}
}

// errBusy marks a 0x21 answer inside one attempt.
var errBusy = errors.New("ecu busy")

// exchangeStep is the part of an attempt that failed last.
type exchangeStep uint8

const (
	stepRead exchangeStep = iota
	stepWrite
)

// exchange is the state of one TransmitAndReceive call.
type exchange struct {
	c        *Client
	payload  []byte
	timeout  time.Duration
	attempts int
	step     exchangeStep
	waited   time.Duration // busy and pending time charged against MaxBusyWait
}

func (x *exchange) charge(d time.Duration) error {
	x.waited += d
	if x.waited > x.c.opts.MaxBusyWait {
		return exchangeError(j2534.ExhaustedRetries, nil, "ECU busy for %s, limit %s", x.waited, x.c.opts.MaxBusyWait)
	}
	return nil
}

// attempt is one retry.Do round: clear, transmit, await. A busy answer
// retransmits within the same attempt.
func (x *exchange) attempt() (j2534.Message, error) {
	c := x.c
	x.attempts++
	for {
		if err := c.ch.ClearReceiveBuffer(); err != nil {
			return j2534.Message{}, err
		}
		if err := c.Transmit(c.Message(x.payload), c.prof.TxTimeout); err != nil {
			x.step = stepWrite
			return j2534.Message{}, err
		}
		c.setState(StateSent)

		x.step = stepRead
		m, err := x.await()
		if !errors.Is(err, errBusy) {
			return m, err
		}
		if err := x.charge(c.opts.BusyDelay); err != nil {
			return j2534.Message{}, err
		}
		c.setState(StateBusyRetry)
		c.log.Info("ECU busy, repeating request", "delay", c.opts.BusyDelay, "sid", fmt.Sprintf("%02X", x.payload[0]))
		<-c.timer.After(c.opts.BusyDelay)
	}
}

// await reads until the answer to x.payload arrives.
func (x *exchange) await() (j2534.Message, error) {
	c := x.c
	c.setState(StateAwaitingResponse)
	canFamily := c.ch.Protocol().IsCANFamily()
	positive := x.payload[0] + 0x40
	timeout := x.timeout
	skipped := 0
	var pendingSince time.Time

	for {
		m, err := c.ch.Read(timeout)
		if !pendingSince.IsZero() {
			if cerr := x.charge(c.now().Sub(pendingSince)); cerr != nil {
				return j2534.Message{}, cerr
			}
			pendingSince = time.Time{}
		}
		if err != nil {
			if j2534.IsRecoverable(err) {
				c.setState(StateTimedOut)
			}
			return j2534.Message{}, err
		}

		if !canFamily {
			if c.ch.Protocol().IsSCI() && len(m.Payload) <= 1 {
				c.setState(StateTimedOut)
				return j2534.Message{}, &j2534.Error{Op: j2534.OpReadMsgs, Kind: j2534.Timeout, Detail: "SCI answer carries no data"}
			}
			c.setState(StateReceived)
			return m, nil
		}

		if m.IsIndication() || len(m.Payload) == 0 {
			skipped++
			if skipped > c.opts.MaxIndications {
				c.setState(StateTimedOut)
				return j2534.Message{}, &j2534.Error{Op: j2534.OpReadMsgs, Kind: j2534.Timeout,
					Detail: fmt.Sprintf("%d indications without an answer", skipped)}
			}
			continue
		}

		nr, negative := ParseNegativeResponse(m.Payload)
		if negative && nr.ServiceID == x.payload[0] {
			switch nr.NRC {
			case NRCResponsePending:
				c.log.Info("response pending", "sid", fmt.Sprintf("%02X", nr.ServiceID))
				if x.waited >= c.opts.MaxBusyWait {
					return j2534.Message{}, exchangeError(j2534.ExhaustedRetries, nil, "response pending for %s, limit %s", x.waited, c.opts.MaxBusyWait)
				}
				pendingSince = c.now()
				timeout = c.opts.PendingTimeout
				continue
			case NRCBusyRepeatRequest:
				return m, errBusy
			}
			c.setState(StateReceived)
			return m, nil
		}

		if negative || m.Payload[0] != positive {
			// answer to another request
			skipped++
			if skipped > c.opts.MaxIndications {
				c.setState(StateTimedOut)
				return j2534.Message{}, &j2534.Error{Op: j2534.OpReadMsgs, Kind: j2534.Timeout,
					Detail: fmt.Sprintf("no %02X answer among %d messages", positive, skipped)}
			}
			continue
		}
		c.setState(StateReceived)
		return m, nil
	}
}

// CheckCommunication sends the profile's communication check request.
func (c *Client) CheckCommunication() (j2534.Message, error) {
	return c.TransmitAndReceive(c.prof.CommunicationCheck, c.opts.Attempts, 0)
}

// Close disconnects the channel and, for a Dial client, closes the device.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info("closing")
	err := c.ch.Disconnect()
	if c.dev != nil {
		err = errors.Join(err, c.dev.Close())
	}
	return err
}
