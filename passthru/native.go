package passthru

// NativeTransport is the J2534-1 v04.04 function table. Implementations pass
// values straight through to the vendor library and return its raw status;
// nothing above this interface sees a function pointer.
//
// Ioctl input and output are typed by IoctlID:
//
//	GET_CONFIG, SET_CONFIG            input *ConfigList
//	READ_VBATT, READ_PROG_VOLTAGE     output *uint32 (millivolts)
//	FIVE_BAUD_INIT                    input, output *ByteArray
//	FAST_INIT                         input, output *Msg
//	CLEAR_* buffers and filters       nil, nil
type NativeTransport interface {
	Open(name string) (deviceID uint32, status Status)
	Close(deviceID uint32) Status
	Connect(deviceID uint32, protocol ProtocolID, flags ConnectFlag, baudRate uint32) (channelID uint32, status Status)
	Disconnect(channelID uint32) Status
	ReadMsgs(channelID uint32, msgs []Msg, timeoutMs uint32) (read uint32, status Status)
	WriteMsgs(channelID uint32, msgs []Msg, timeoutMs uint32) (written uint32, status Status)
	StartPeriodicMsg(channelID uint32, msg *Msg, intervalMs uint32) (msgID uint32, status Status)
	StopPeriodicMsg(channelID uint32, msgID uint32) Status
	StartMsgFilter(channelID uint32, kind FilterType, mask, pattern, flowControl *Msg) (filterID uint32, status Status)
	StopMsgFilter(channelID uint32, filterID uint32) Status
	SetProgrammingVoltage(deviceID uint32, pin uint32, voltage uint32) Status
	ReadVersion(deviceID uint32) (firmware, dll, api string, status Status)
	GetLastError() (description string, status Status)
	Ioctl(handleID uint32, ioctl IoctlID, input, output any) Status
}
