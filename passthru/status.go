package passthru

import "fmt"

// Status is the raw return value of every PassThru entry point.
type Status uint32

const (
	StatusNoError          Status = 0x00
	ErrNotSupported        Status = 0x01
	ErrInvalidChannelID    Status = 0x02
	ErrInvalidProtocolID   Status = 0x03
	ErrNullParameter       Status = 0x04
	ErrInvalidIoctlValue   Status = 0x05
	ErrInvalidFlags        Status = 0x06
	ErrFailed              Status = 0x07
	ErrDeviceNotConnected  Status = 0x08
	ErrTimeout             Status = 0x09
	ErrInvalidMsg          Status = 0x0A
	ErrInvalidTimeInterval Status = 0x0B
	ErrExceededLimit       Status = 0x0C
	ErrInvalidMsgID        Status = 0x0D
	ErrDeviceInUse         Status = 0x0E
	ErrInvalidIoctlID      Status = 0x0F
	ErrBufferEmpty         Status = 0x10
	ErrBufferFull          Status = 0x11
	ErrBufferOverflow      Status = 0x12
	ErrPinInvalid          Status = 0x13
	ErrChannelInUse        Status = 0x14
	ErrMsgProtocolID       Status = 0x15
	ErrInvalidFilterID     Status = 0x16
	ErrNoFlowControl       Status = 0x17
	ErrNotUnique           Status = 0x18
	ErrInvalidBaudrate     Status = 0x19
	ErrInvalidDeviceID     Status = 0x1A
)

var statusNames = map[Status]string{
	StatusNoError:          "STATUS_NOERROR",
	ErrNotSupported:        "ERR_NOT_SUPPORTED",
	ErrInvalidChannelID:    "ERR_INVALID_CHANNEL_ID",
	ErrInvalidProtocolID:   "ERR_INVALID_PROTOCOL_ID",
	ErrNullParameter:       "ERR_NULL_PARAMETER",
	ErrInvalidIoctlValue:   "ERR_INVALID_IOCTL_VALUE",
	ErrInvalidFlags:        "ERR_INVALID_FLAGS",
	ErrFailed:              "ERR_FAILED",
	ErrDeviceNotConnected:  "ERR_DEVICE_NOT_CONNECTED",
	ErrTimeout:             "ERR_TIMEOUT",
	ErrInvalidMsg:          "ERR_INVALID_MSG",
	ErrInvalidTimeInterval: "ERR_INVALID_TIME_INTERVAL",
	ErrExceededLimit:       "ERR_EXCEEDED_LIMIT",
	ErrInvalidMsgID:        "ERR_INVALID_MSG_ID",
	ErrDeviceInUse:         "ERR_DEVICE_IN_USE",
	ErrInvalidIoctlID:      "ERR_INVALID_IOCTL_ID",
	ErrBufferEmpty:         "ERR_BUFFER_EMPTY",
	ErrBufferFull:          "ERR_BUFFER_FULL",
	ErrBufferOverflow:      "ERR_BUFFER_OVERFLOW",
	ErrPinInvalid:          "ERR_PIN_INVALID",
	ErrChannelInUse:        "ERR_CHANNEL_IN_USE",
	ErrMsgProtocolID:       "ERR_MSG_PROTOCOL_ID",
	ErrInvalidFilterID:     "ERR_INVALID_FILTER_ID",
	ErrNoFlowControl:       "ERR_NO_FLOW_CONTROL",
	ErrNotUnique:           "ERR_NOT_UNIQUE",
	ErrInvalidBaudrate:     "ERR_INVALID_BAUDRATE",
	ErrInvalidDeviceID:     "ERR_INVALID_DEVICE_ID",
}

var statusDescriptions = map[Status]string{
	StatusNoError:          "function call successful",
	ErrNotSupported:        "function or feature not supported by device",
	ErrInvalidChannelID:    "invalid channel ID, not from PassThruConnect or already disconnected",
	ErrInvalidProtocolID:   "invalid protocol ID, not recognized or protocol resource conflict",
	ErrNullParameter:       "NULL parameter, required pointer was NULL",
	ErrInvalidIoctlValue:   "invalid IOCTL value, parameter value out of valid range",
	ErrInvalidFlags:        "invalid flags, flags parameter contains invalid combination",
	ErrFailed:              "undefined error, use PassThruGetLastError for description",
	ErrDeviceNotConnected:  "device not connected, unable to communicate with device",
	ErrTimeout:             "timeout, operation did not complete within specified time",
	ErrInvalidMsg:          "invalid message, message structure contains invalid values",
	ErrInvalidTimeInterval: "invalid time interval, value outside valid range",
	ErrExceededLimit:       "exceeded limit, maximum filters or periodic messages reached",
	ErrInvalidMsgID:        "invalid message ID, not from successful start operation",
	ErrDeviceInUse:         "device in use, already opened by another application",
	ErrInvalidIoctlID:      "invalid IOCTL ID, command not recognized for this channel type",
	ErrBufferEmpty:         "buffer empty, no messages available in receive buffer",
	ErrBufferFull:          "buffer full, transmit buffer cannot accept more messages",
	ErrBufferOverflow:      "buffer overflow, messages were lost",
	ErrPinInvalid:          "invalid pin, pin number not valid or voltage already on different pin",
	ErrChannelInUse:        "channel in use, requested channel already connected",
	ErrMsgProtocolID:       "protocol ID mismatch, message protocol differs from channel protocol",
	ErrInvalidFilterID:     "invalid filter ID, not from successful filter start operation",
	ErrNoFlowControl:       "no flow control, ISO 15765 channel requires flow control filter",
	ErrNotUnique:           "not unique, filter pattern/mask combination already exists",
	ErrInvalidBaudrate:     "invalid baud rate, cannot achieve requested rate within tolerance",
	ErrInvalidDeviceID:     "invalid device ID, not from PassThruOpen or device already closed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_0x%02X", uint32(s))
}

// Description returns the J2534-1 text for s, or a generic text for vendor codes.
func (s Status) Description() string {
	if d, ok := statusDescriptions[s]; ok {
		return d
	}
	return fmt.Sprintf("unknown native status 0x%02X", uint32(s))
}

// Known reports whether s is defined by J2534-1 v04.04.
func (s Status) Known() bool {
	_, ok := statusNames[s]
	return ok
}
