package j2534

import "github.com/LoveWonYoung/ptcomm/passthru"

type baudRange struct {
	min, max uint32
	fixed    []uint32
}

func (r baudRange) allows(baud uint32) bool {
	if r.max != 0 && baud >= r.min && baud <= r.max {
		return true
	}
	for _, f := range r.fixed {
		if baud == f {
			return true
		}
	}
	return false
}

// SCI-A runs at 7812.5 baud, which vendors accept rounded either way.
var sciLowSpeed = []uint32{7812, 7813}

var baudRanges = map[passthru.ProtocolID]baudRange{
	passthru.CAN:        {min: 5000, max: 1000000},
	passthru.ISO15765:   {min: 5000, max: 1000000},
	passthru.J1850VPW:   {fixed: []uint32{10400, 41600}},
	passthru.J1850PWM:   {fixed: []uint32{41600, 83300}},
	passthru.ISO9141:    {min: 4800, max: 115200},
	passthru.ISO14230:   {min: 4800, max: 115200},
	passthru.SCIAEngine: {fixed: sciLowSpeed},
	passthru.SCIATrans:  {fixed: sciLowSpeed},
	passthru.SCIBEngine: {fixed: append([]uint32{62500}, sciLowSpeed...)},
	passthru.SCIBTrans:  {fixed: append([]uint32{62500}, sciLowSpeed...)},
}

// ValidateBaudRate checks baud against the documented range of protocol.
func ValidateBaudRate(protocol passthru.ProtocolID, baud uint32) error {
	r, ok := baudRanges[protocol]
	if !ok {
		return localError(OpConnect, InvalidProtocol, "protocol %s", protocol)
	}
	if !r.allows(baud) {
		return localError(OpConnect, InvalidBaudRate, "%d baud is outside the %s range", baud, protocol)
	}
	return nil
}
