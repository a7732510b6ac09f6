package j2534

import (
	"errors"
	"fmt"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

// Kind classifies a failure independently of how it is surfaced.
// A Kind is itself an error so callers can write errors.Is(err, j2534.Timeout).
type Kind uint8

const (
	KindNone Kind = iota
	NotSupported
	InvalidHandle
	InvalidProtocol
	NullParameter
	InvalidIoctl
	InvalidFlags
	Failed
	DeviceNotConnected
	Timeout
	InvalidMessage
	InvalidTimeInterval
	ExceededLimit
	DeviceInUse
	BufferEmpty
	BufferFull
	BufferOverflow
	PinInvalid
	ChannelInUse
	ProtocolMismatch
	MissingFlowControl
	NotUnique
	InvalidBaudRate
	ExhaustedRetries
	UnknownNative
	InvalidArgument
)

var kindNames = [...]string{
	KindNone:            "none",
	NotSupported:        "not supported",
	InvalidHandle:       "invalid handle",
	InvalidProtocol:     "invalid protocol",
	NullParameter:       "null parameter",
	InvalidIoctl:        "invalid ioctl",
	InvalidFlags:        "invalid flags",
	Failed:              "failed",
	DeviceNotConnected:  "device not connected",
	Timeout:             "timeout",
	InvalidMessage:      "invalid message",
	InvalidTimeInterval: "invalid time interval",
	ExceededLimit:       "exceeded limit",
	DeviceInUse:         "device in use",
	BufferEmpty:         "buffer empty",
	BufferFull:          "buffer full",
	BufferOverflow:      "buffer overflow",
	PinInvalid:          "pin invalid",
	ChannelInUse:        "channel in use",
	ProtocolMismatch:    "protocol mismatch",
	MissingFlowControl:  "missing flow control filter",
	NotUnique:           "filter not unique",
	InvalidBaudRate:     "invalid baud rate",
	ExhaustedRetries:    "exhausted retries",
	UnknownNative:       "unknown native status",
	InvalidArgument:     "invalid argument",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Error() string { return k.String() }

// Recoverable reports whether the Communicator may retry after k.
func (k Kind) Recoverable() bool {
	return k == Timeout || k == BufferEmpty
}

var statusKinds = map[passthru.Status]Kind{
	passthru.StatusNoError:          KindNone,
	passthru.ErrNotSupported:        NotSupported,
	passthru.ErrInvalidChannelID:    InvalidHandle,
	passthru.ErrInvalidProtocolID:   InvalidProtocol,
	passthru.ErrNullParameter:       NullParameter,
	passthru.ErrInvalidIoctlValue:   InvalidIoctl,
	passthru.ErrInvalidFlags:        InvalidFlags,
	passthru.ErrFailed:              Failed,
	passthru.ErrDeviceNotConnected:  DeviceNotConnected,
	passthru.ErrTimeout:             Timeout,
	passthru.ErrInvalidMsg:          InvalidMessage,
	passthru.ErrInvalidTimeInterval: InvalidTimeInterval,
	passthru.ErrExceededLimit:       ExceededLimit,
	passthru.ErrInvalidMsgID:        InvalidHandle,
	passthru.ErrDeviceInUse:         DeviceInUse,
	passthru.ErrInvalidIoctlID:      InvalidIoctl,
	passthru.ErrBufferEmpty:         BufferEmpty,
	passthru.ErrBufferFull:          BufferFull,
	passthru.ErrBufferOverflow:      BufferOverflow,
	passthru.ErrPinInvalid:          PinInvalid,
	passthru.ErrChannelInUse:        ChannelInUse,
	passthru.ErrMsgProtocolID:       ProtocolMismatch,
	passthru.ErrInvalidFilterID:     InvalidHandle,
	passthru.ErrNoFlowControl:       MissingFlowControl,
	passthru.ErrNotUnique:           NotUnique,
	passthru.ErrInvalidBaudrate:     InvalidBaudRate,
	passthru.ErrInvalidDeviceID:     InvalidHandle,
}

// Translate maps a native status to its Kind. It is total: codes outside
// J2534-1 v04.04 yield UnknownNative.
func Translate(status passthru.Status) Kind {
	if k, ok := statusKinds[status]; ok {
		return k
	}
	return UnknownNative
}

// Op names the entry point or local operation that failed.
type Op string

const (
	OpOpen                  Op = "PassThruOpen"
	OpClose                 Op = "PassThruClose"
	OpConnect               Op = "PassThruConnect"
	OpDisconnect            Op = "PassThruDisconnect"
	OpReadMsgs              Op = "PassThruReadMsgs"
	OpWriteMsgs             Op = "PassThruWriteMsgs"
	OpStartPeriodicMsg      Op = "PassThruStartPeriodicMsg"
	OpStopPeriodicMsg       Op = "PassThruStopPeriodicMsg"
	OpStartMsgFilter        Op = "PassThruStartMsgFilter"
	OpStopMsgFilter         Op = "PassThruStopMsgFilter"
	OpSetProgrammingVoltage Op = "PassThruSetProgrammingVoltage"
	OpReadVersion           Op = "PassThruReadVersion"
	OpIoctl                 Op = "PassThruIoctl"
	OpEncode                Op = "encode"
	OpDecode                Op = "decode"
	OpLoad                  Op = "load"
	OpTransmitAndReceive    Op = "transmit_and_receive"
)

// failure matches every native failure of a group of operations.
type failure struct {
	msg string
	ops []Op
}

func (f *failure) Error() string { return f.msg }

func (f *failure) matches(op Op) bool {
	for _, o := range f.ops {
		if o == op {
			return true
		}
	}
	return false
}

// Sentinels for native failures by operation, e.g. errors.Is(err, ErrTransmitFailed).
// Only errors carrying a non-zero native status match.
var (
	ErrDeviceOpenFailed     error = &failure{msg: "device open failed", ops: []Op{OpOpen}}
	ErrChannelConnectFailed error = &failure{msg: "channel connect failed", ops: []Op{OpConnect}}
	ErrTransmitFailed       error = &failure{msg: "transmit failed", ops: []Op{OpWriteMsgs}}
	ErrReceiveFailed        error = &failure{msg: "receive failed", ops: []Op{OpReadMsgs}}
	ErrFilterFailed         error = &failure{msg: "filter failed", ops: []Op{OpStartMsgFilter, OpStopMsgFilter}}
	ErrIoctlFailed          error = &failure{msg: "ioctl failed", ops: []Op{OpIoctl}}
)

// Error is the single failure type of the package. It is never mutated after construction.
type Error struct {
	Op     Op
	Kind   Kind
	Code   passthru.Status // raw native status, zero for local failures
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("j2534: %s: %s", e.Op, e.Kind)
	if e.Code != passthru.StatusNoError {
		msg += fmt.Sprintf(" (%s 0x%02X: %s)", e.Code, uint32(e.Code), e.Code.Description())
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *failure:
		return e.Code != passthru.StatusNoError && t.matches(e.Op)
	}
	return false
}

// Native reports whether the failure came from the vendor library.
func (e *Error) Native() bool { return e.Code != passthru.StatusNoError }

func localError(op Op, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func nativeError(op Op, status passthru.Status, detail string) *Error {
	return &Error{Op: op, Kind: Translate(status), Code: status, Detail: detail}
}

// KindOf extracts the Kind of err, KindNone for nil and Failed for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Failed
}

// IsRecoverable reports whether err is a Timeout or BufferEmpty failure.
func IsRecoverable(err error) bool {
	return KindOf(err).Recoverable()
}
