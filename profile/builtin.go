package profile

import (
	"fmt"
	"time"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

// sciBaud is 7812.5 baud rounded up, as the vendor libraries expect it.
const sciBaud = 7813

func canProfile(key, name string, tx, rx uint32, check ...byte) Profile {
	return Profile{
		Key:                key,
		Name:               name,
		Protocol:           passthru.ISO15765,
		BaudRate:           500000,
		TxFlags:            passthru.ISO15765FramePad,
		TxIdentifier:       tx,
		RxIdentifier:       rx,
		Mask:               0xFFFFFFFF,
		CommunicationCheck: check,
		RxTimeout:          500 * time.Millisecond,
	}
}

func sciProfile(key, name string, protocol passthru.ProtocolID, timing SCITiming, check ...byte) Profile {
	return Profile{
		Key:                key,
		Name:               name,
		Protocol:           protocol,
		BaudRate:           sciBaud,
		CommunicationCheck: check,
		TxTimeout:          500 * time.Millisecond,
		RxTimeout:          1000 * time.Millisecond,
		SCI:                timing,
	}
}

// builtins is ordered the way auto-detection tries them.
var builtins = []Profile{
	canProfile("chrys1", "CHRYSLER ECU CAN 11-BIT", 0x7E0, 0x7E8, 0x1A, 0x87),
	func() Profile {
		p := canProfile("chrys2", "CHRYSLER ECU CAN 29-BIT", 0x18DA10F1, 0x18DAF110, 0x1A, 0x87)
		p.ConnectFlags = passthru.CANIDBoth
		p.TxFlags = passthru.TxCAN29BitID | passthru.ISO15765FramePad
		return p
	}(),
	canProfile("chrys6", "CHRYSLER TIPM", 0x620, 0x504, 0x1A, 0x87),
	canProfile("chrys7", "CHRYSLER BCM", 0x620, 0x504, 0x22, 0xF1, 0x90),
	canProfile("chrys10", "CHRYSLER TRANS CAN 11-BIT", 0x7E1, 0x7E9, 0x1A, 0x87),
	sciProfile("chrys3", "CHRYSLER ECU SCI A ENGINE", passthru.SCIAEngine, SCITiming{T4Max: 200}, 0x2A, 0x0F),
	sciProfile("chrys4", "CHRYSLER ECU SCI B ENGINE", passthru.SCIBEngine, SCITiming{T1Max: 75, T2Max: 5, T4Max: 50, T5Max: 1}, 0x22, 0x20, 0x07, 0x49),
	sciProfile("chrys5", "CHRYSLER ECU SCI B CUMMINS", passthru.SCIBEngine, SCITiming{T1Max: 75, T2Max: 50, T4Max: 50, T5Max: 10}, 0x2A, 0x0F),
	sciProfile("chrys8", "CHRYSLER ECU SCI B TRANS", passthru.SCIBTrans, SCITiming{T1Max: 75, T2Max: 5, T4Max: 50, T5Max: 1}, 0x01, 0x00),
	sciProfile("chrys9", "CHRYSLER ECU SCI A TRANS", passthru.SCIATrans, SCITiming{}, 0x2A, 0x0F),
}

// Builtin returns the built-in catalog in auto-detection order.
func Builtin() []Profile {
	out := make([]Profile, len(builtins))
	for i, p := range builtins {
		p.CommunicationCheck = append([]byte{}, p.CommunicationCheck...)
		out[i] = p
	}
	return out
}

// Lookup finds key in profiles.
func Lookup(profiles []Profile, key string) (Profile, error) {
	for _, p := range profiles {
		if p.Key == key {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("profile %q not found", key)
}
