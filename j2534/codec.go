package j2534

import (
	"fmt"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/passthru"
)

// canIDSize is the big-endian identifier prefix of CAN and ISO15765 frames.
const canIDSize = 4

// padFrameSize is the CAN payload length reached with ISO15765_FRAME_PAD.
const padFrameSize = 8

var maxPayload = map[passthru.ProtocolID]int{
	passthru.CAN:        8,
	passthru.ISO15765:   4095,
	passthru.J1850VPW:   passthru.DataCapacity,
	passthru.J1850PWM:   12,
	passthru.ISO9141:    260,
	passthru.ISO14230:   260,
	passthru.SCIAEngine: 256,
	passthru.SCIATrans:  256,
	passthru.SCIBEngine: 256,
	passthru.SCIBTrans:  256,
}

// MaxPayload returns the largest payload Encode accepts for protocol.
func MaxPayload(protocol passthru.ProtocolID) (int, bool) {
	n, ok := maxPayload[protocol]
	return n, ok
}

// Message is the semantic form of one PassThru frame. Identifier is only
// meaningful for CAN and ISO15765; other protocols carry their header bytes
// inside Payload.
type Message struct {
	Protocol   passthru.ProtocolID
	TxFlags    uint32
	Identifier uint32
	Payload    []byte
	RxStatus   uint32
	Timestamp  uint32
}

// IsIndication reports a loopback echo or an ISO15765 first-frame notice,
// neither of which is an ECU response.
func (m Message) IsIndication() bool {
	return m.RxStatus&(passthru.TxMsgType|passthru.StartOfMessage) != 0
}

func (m Message) String() string {
	if m.Protocol.IsCANFamily() {
		return fmt.Sprintf("%s 0x%X [% X]", m.Protocol, m.Identifier, m.Payload)
	}
	return fmt.Sprintf("%s [% X]", m.Protocol, m.Payload)
}

// Encode builds the native buffer for one message.
func Encode(protocol passthru.ProtocolID, txFlags, identifier uint32, payload []byte) (*passthru.Msg, error) {
	limit, ok := maxPayload[protocol]
	if !ok {
		return nil, localError(OpEncode, InvalidProtocol, "protocol %s", protocol)
	}
	if len(payload) > limit {
		return nil, localError(OpEncode, InvalidArgument, "%d byte payload exceeds %s maximum of %d", len(payload), protocol, limit)
	}

	var data []byte
	if protocol.IsCANFamily() {
		body := payload
		if txFlags&passthru.ISO15765FramePad != 0 && len(body) < padFrameSize {
			body = make([]byte, padFrameSize)
			copy(body, payload)
		}
		data = append(driver.IntToBig(identifier), body...)
	} else {
		if identifier != 0 {
			return nil, localError(OpEncode, InvalidArgument, "%s carries its header in the payload, identifier must be zero", protocol)
		}
		data = payload
	}

	msg := &passthru.Msg{ProtocolID: protocol, TxFlags: txFlags}
	if err := msg.SetBytes(data); err != nil {
		return nil, &Error{Op: OpEncode, Kind: InvalidArgument, Err: err}
	}
	return msg, nil
}

// EncodeMessage is Encode for a Message value.
func EncodeMessage(m Message) (*passthru.Msg, error) {
	return Encode(m.Protocol, m.TxFlags, m.Identifier, m.Payload)
}

// Decode is the inverse of Encode for a buffer read on a protocol channel.
func Decode(protocol passthru.ProtocolID, msg *passthru.Msg) (Message, error) {
	if msg == nil {
		return Message{}, localError(OpDecode, NullParameter, "nil buffer")
	}
	if !msg.Valid() {
		return Message{}, localError(OpDecode, InvalidArgument, "data size %d exceeds capacity %d", msg.DataSize, passthru.DataCapacity)
	}
	if msg.ProtocolID != 0 && msg.ProtocolID != protocol {
		return Message{}, localError(OpDecode, ProtocolMismatch, "%s buffer on %s channel", msg.ProtocolID, protocol)
	}

	data := msg.Bytes()
	out := Message{
		Protocol:  protocol,
		TxFlags:   msg.TxFlags,
		RxStatus:  msg.RxStatus,
		Timestamp: msg.Timestamp,
	}
	if protocol.IsCANFamily() {
		if len(data) < canIDSize {
			return Message{}, localError(OpDecode, InvalidArgument, "%d byte %s frame has no identifier", len(data), protocol)
		}
		out.Identifier = driver.BigToInt(data[:canIDSize])
		out.Payload = data[canIDSize:]
		return out, nil
	}
	out.Payload = data
	return out, nil
}
