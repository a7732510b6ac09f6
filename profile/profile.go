package profile

import (
	"fmt"
	"time"

	"github.com/LoveWonYoung/ptcomm/j2534"
	"github.com/LoveWonYoung/ptcomm/passthru"
)

// SCITiming holds the SCI inter-frame limits in milliseconds. Zero leaves
// the device default untouched.
type SCITiming struct {
	T1Max uint32 // inter-frame response delay
	T2Max uint32 // inter-frame request delay
	T4Max uint32 // inter-message response delay
	T5Max uint32 // inter-message request delay
}

// Profile is a named bundle of connection parameters for one ECU.
// Profiles are values and are not modified after loading.
type Profile struct {
	Key          string
	Name         string
	Protocol     passthru.ProtocolID
	BaudRate     uint32
	ConnectFlags passthru.ConnectFlag
	TxFlags      uint32
	TxIdentifier uint32
	RxIdentifier uint32
	Mask         uint32

	// CommunicationCheck is a request the ECU answers once the link is up.
	CommunicationCheck []byte

	TxTimeout time.Duration
	RxTimeout time.Duration
	SCI       SCITiming
}

// IsCAN reports whether the profile talks CAN or ISO15765.
func (p Profile) IsCAN() bool { return p.Protocol.IsCANFamily() }

// IsSCI reports whether the profile talks one of the SCI variants.
func (p Profile) IsSCI() bool { return p.Protocol.IsSCI() }

// Uses29BitIDs reports 29 bit CAN addressing.
func (p Profile) Uses29BitIDs() bool {
	return p.ConnectFlags&passthru.CAN29BitID != 0 || p.TxFlags&passthru.TxCAN29BitID != 0
}

// ConfigItems returns the SET_CONFIG parameters the profile requires after
// connect. Only SCI profiles carry any.
func (p Profile) ConfigItems() []passthru.ConfigItem {
	if !p.IsSCI() {
		return nil
	}
	var items []passthru.ConfigItem
	for _, it := range []passthru.ConfigItem{
		{Parameter: passthru.T1Max, Value: p.SCI.T1Max},
		{Parameter: passthru.T2Max, Value: p.SCI.T2Max},
		{Parameter: passthru.T4Max, Value: p.SCI.T4Max},
		{Parameter: passthru.T5Max, Value: p.SCI.T5Max},
	} {
		if it.Value != 0 {
			items = append(items, it)
		}
	}
	return items
}

// Validate checks the profile against the protocol rules enforced at connect time.
func (p Profile) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("profile %q: key is required", p.Name)
	}
	if !p.Protocol.Valid() {
		return fmt.Errorf("profile %s: unknown protocol %d", p.Key, uint32(p.Protocol))
	}
	if err := j2534.ValidateBaudRate(p.Protocol, p.BaudRate); err != nil {
		return fmt.Errorf("profile %s: %w", p.Key, err)
	}
	if p.Protocol == passthru.ISO15765 && (p.TxIdentifier == 0 || p.RxIdentifier == 0) {
		return fmt.Errorf("profile %s: ISO15765 needs request and response identifiers", p.Key)
	}
	if len(p.CommunicationCheck) == 0 {
		return fmt.Errorf("profile %s: communication check request is required", p.Key)
	}
	if p.RxTimeout < 0 || p.TxTimeout < 0 {
		return fmt.Errorf("profile %s: negative timeout", p.Key)
	}
	return nil
}

func (p Profile) String() string {
	if p.IsCAN() {
		return fmt.Sprintf("%s (%s, %s %d baud, tx 0x%X rx 0x%X)", p.Key, p.Name, p.Protocol, p.BaudRate, p.TxIdentifier, p.RxIdentifier)
	}
	return fmt.Sprintf("%s (%s, %s %d baud)", p.Key, p.Name, p.Protocol, p.BaudRate)
}
