package passthru

import (
	"fmt"
	"strings"
)

// ProtocolID selects the vehicle network protocol of a channel.
type ProtocolID uint32

const (
	J1850VPW   ProtocolID = 0x01
	J1850PWM   ProtocolID = 0x02
	ISO9141    ProtocolID = 0x03
	ISO14230   ProtocolID = 0x04
	CAN        ProtocolID = 0x05
	ISO15765   ProtocolID = 0x06
	SCIAEngine ProtocolID = 0x07
	SCIATrans  ProtocolID = 0x08
	SCIBEngine ProtocolID = 0x09
	SCIBTrans  ProtocolID = 0x0A
)

var protocolNames = map[ProtocolID]string{
	J1850VPW:   "J1850VPW",
	J1850PWM:   "J1850PWM",
	ISO9141:    "ISO9141",
	ISO14230:   "ISO14230",
	CAN:        "CAN",
	ISO15765:   "ISO15765",
	SCIAEngine: "SCI_A_ENGINE",
	SCIATrans:  "SCI_A_TRANS",
	SCIBEngine: "SCI_B_ENGINE",
	SCIBTrans:  "SCI_B_TRANS",
}

// Protocols lists every protocol in registry order.
var Protocols = []ProtocolID{
	J1850VPW, J1850PWM, ISO9141, ISO14230, CAN, ISO15765,
	SCIAEngine, SCIATrans, SCIBEngine, SCIBTrans,
}

func (p ProtocolID) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PROTOCOL_0x%X", uint32(p))
}

// Valid reports whether p is one of the J2534-1 protocols.
func (p ProtocolID) Valid() bool {
	_, ok := protocolNames[p]
	return ok
}

// IsCANFamily reports whether frames carry a 4-byte CAN identifier prefix.
func (p ProtocolID) IsCANFamily() bool {
	return p == CAN || p == ISO15765
}

// IsSCI reports whether p is one of the Chrysler SCI variants.
func (p ProtocolID) IsSCI() bool {
	return p >= SCIAEngine && p <= SCIBTrans
}

// ParseProtocol resolves a protocol by its registry name ("ISO15765", "SCI_A_ENGINE", ...).
func ParseProtocol(name string) (ProtocolID, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	want = strings.ReplaceAll(want, "-", "_")
	for id, n := range protocolNames {
		if n == want || strings.ReplaceAll(n, "_", "") == want {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown protocol %q", name)
}

// ConnectFlag modifies PassThruConnect.
type ConnectFlag uint32

const (
	CAN29BitID        ConnectFlag = 0x00000100
	ISO9141NoChecksum ConnectFlag = 0x00000200
	CANIDBoth         ConnectFlag = 0x00000800
	ISO9141KLineOnly  ConnectFlag = 0x00001000
)

// TxFlag bits of PASSTHRU_MSG.TxFlags.
const (
	ISO15765FramePad uint32 = 0x00000040
	ISO15765AddrType uint32 = 0x00000080
	TxCAN29BitID     uint32 = 0x00000100
	WaitP3MinOnly    uint32 = 0x00000200
	SWCANHVTx        uint32 = 0x00000400
	SCIMode          uint32 = 0x00400000
	SCITxVoltage     uint32 = 0x00800000
)

// RxStatus bits of PASSTHRU_MSG.RxStatus.
const (
	TxMsgType            uint32 = 0x00000001
	StartOfMessage       uint32 = 0x00000002
	RxBreak              uint32 = 0x00000004
	TxDone               uint32 = 0x00000008
	ISO15765PaddingError uint32 = 0x00000010
	ISO15765ExtAddr      uint32 = 0x00000080
	RxCAN29BitID         uint32 = 0x00000100
)

// FilterType selects PASS, BLOCK or FLOW_CONTROL behaviour.
type FilterType uint32

const (
	PassFilter        FilterType = 0x01
	BlockFilter       FilterType = 0x02
	FlowControlFilter FilterType = 0x03
)

func (f FilterType) String() string {
	switch f {
	case PassFilter:
		return "PASS"
	case BlockFilter:
		return "BLOCK"
	case FlowControlFilter:
		return "FLOW_CONTROL"
	default:
		return fmt.Sprintf("FILTER_0x%X", uint32(f))
	}
}

// IoctlID selects a PassThruIoctl operation.
type IoctlID uint32

const (
	GetConfig                     IoctlID = 0x01
	SetConfig                     IoctlID = 0x02
	ReadVBatt                     IoctlID = 0x03
	FiveBaudInit                  IoctlID = 0x04
	FastInit                      IoctlID = 0x05
	ClearTxBuffer                 IoctlID = 0x07
	ClearRxBuffer                 IoctlID = 0x08
	ClearPeriodicMsgs             IoctlID = 0x09
	ClearMsgFilters               IoctlID = 0x0A
	ClearFunctMsgLookupTable      IoctlID = 0x0B
	AddToFunctMsgLookupTable      IoctlID = 0x0C
	DeleteFromFunctMsgLookupTable IoctlID = 0x0D
	ReadProgVoltage               IoctlID = 0x0E
)

// ConfigParam identifies a GET_CONFIG / SET_CONFIG parameter.
type ConfigParam uint32

const (
	DataRate        ConfigParam = 0x01
	Loopback        ConfigParam = 0x03
	NodeAddress     ConfigParam = 0x04
	NetworkLine     ConfigParam = 0x05
	P1Min           ConfigParam = 0x06
	P1Max           ConfigParam = 0x07
	P2Min           ConfigParam = 0x08
	P2Max           ConfigParam = 0x09
	P3Min           ConfigParam = 0x0A
	P3Max           ConfigParam = 0x0B
	P4Min           ConfigParam = 0x0C
	P4Max           ConfigParam = 0x0D
	W1              ConfigParam = 0x0E
	W2              ConfigParam = 0x0F
	W3              ConfigParam = 0x10
	W4              ConfigParam = 0x11
	W5              ConfigParam = 0x12
	Tidle           ConfigParam = 0x13
	Tinil           ConfigParam = 0x14
	Twup            ConfigParam = 0x15
	Parity          ConfigParam = 0x16
	BitSamplePoint  ConfigParam = 0x17
	SyncJumpWidth   ConfigParam = 0x18
	W0              ConfigParam = 0x19
	T1Max           ConfigParam = 0x1A
	T2Max           ConfigParam = 0x1B
	T4Max           ConfigParam = 0x1C
	T5Max           ConfigParam = 0x1D
	ISO15765BS      ConfigParam = 0x1E
	ISO15765STmin   ConfigParam = 0x1F
	DataBits        ConfigParam = 0x20
	FiveBaudMod     ConfigParam = 0x21
	ISO15765BSTx    ConfigParam = 0x22
	ISO15765STminTx ConfigParam = 0x23
	T3Max           ConfigParam = 0x24
	ISO15765WFTMax  ConfigParam = 0x25
)

// Programming voltage specials for SetProgrammingVoltage.
const (
	ShortToGround uint32 = 0xFFFFFFFE
	VoltageOff    uint32 = 0xFFFFFFFF
)
