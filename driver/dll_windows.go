//go:build windows

package driver

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

// J2534 版本字符串缓冲区大小
const versionBufferSize = 80

// DLL binds the J2534-1 function table of a vendor library.
type DLL struct {
	path string
	dll  *windows.DLL

	procOpen                  *windows.Proc
	procClose                 *windows.Proc
	procConnect               *windows.Proc
	procDisconnect            *windows.Proc
	procReadMsgs              *windows.Proc
	procWriteMsgs             *windows.Proc
	procStartPeriodicMsg      *windows.Proc
	procStopPeriodicMsg       *windows.Proc
	procStartMsgFilter        *windows.Proc
	procStopMsgFilter         *windows.Proc
	procSetProgrammingVoltage *windows.Proc
	procReadVersion           *windows.Proc
	procGetLastError          *windows.Proc
	procIoctl                 *windows.Proc
}

// sconfigList mirrors SCONFIG_LIST.
type sconfigList struct {
	NumOfParams uint32
	ConfigPtr   *passthru.ConfigItem
}

// sbyteArray mirrors SBYTE_ARRAY.
type sbyteArray struct {
	NumOfBytes uint32
	BytePtr    *byte
}

// Load maps the library at path and resolves every PassThru entry point.
func Load(path string) (Library, error) {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	d := &DLL{path: path, dll: dll}
	procs := []struct {
		name string
		dst  **windows.Proc
	}{
		{"PassThruOpen", &d.procOpen},
		{"PassThruClose", &d.procClose},
		{"PassThruConnect", &d.procConnect},
		{"PassThruDisconnect", &d.procDisconnect},
		{"PassThruReadMsgs", &d.procReadMsgs},
		{"PassThruWriteMsgs", &d.procWriteMsgs},
		{"PassThruStartPeriodicMsg", &d.procStartPeriodicMsg},
		{"PassThruStopPeriodicMsg", &d.procStopPeriodicMsg},
		{"PassThruStartMsgFilter", &d.procStartMsgFilter},
		{"PassThruStopMsgFilter", &d.procStopMsgFilter},
		{"PassThruSetProgrammingVoltage", &d.procSetProgrammingVoltage},
		{"PassThruReadVersion", &d.procReadVersion},
		{"PassThruGetLastError", &d.procGetLastError},
		{"PassThruIoctl", &d.procIoctl},
	}
	for _, p := range procs {
		proc, err := dll.FindProc(p.name)
		if err != nil {
			_ = dll.Release()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		*p.dst = proc
	}
	return d, nil
}

func (d *DLL) Path() string { return d.path }

// Release unloads the library.
func (d *DLL) Release() error {
	if d.dll == nil {
		return nil
	}
	err := d.dll.Release()
	d.dll = nil
	return err
}

func status(r1 uintptr) passthru.Status {
	return passthru.Status(uint32(r1))
}

func (d *DLL) Open(name string) (uint32, passthru.Status) {
	var id uint32
	var namePtr *byte
	if name != "" {
		p, err := windows.BytePtrFromString(name)
		if err != nil {
			return 0, passthru.ErrNullParameter
		}
		namePtr = p
	}
	r1, _, _ := d.procOpen.Call(uintptr(unsafe.Pointer(namePtr)), uintptr(unsafe.Pointer(&id)))
	return id, status(r1)
}

func (d *DLL) Close(deviceID uint32) passthru.Status {
	r1, _, _ := d.procClose.Call(uintptr(deviceID))
	return status(r1)
}

func (d *DLL) Connect(deviceID uint32, protocol passthru.ProtocolID, flags passthru.ConnectFlag, baudRate uint32) (uint32, passthru.Status) {
	var id uint32
	r1, _, _ := d.procConnect.Call(
		uintptr(deviceID),
		uintptr(protocol),
		uintptr(flags),
		uintptr(baudRate),
		uintptr(unsafe.Pointer(&id)),
	)
	return id, status(r1)
}

func (d *DLL) Disconnect(channelID uint32) passthru.Status {
	r1, _, _ := d.procDisconnect.Call(uintptr(channelID))
	return status(r1)
}

func (d *DLL) ReadMsgs(channelID uint32, msgs []passthru.Msg, timeoutMs uint32) (uint32, passthru.Status) {
	if len(msgs) == 0 {
		return 0, passthru.ErrNullParameter
	}
	n := uint32(len(msgs))
	r1, _, _ := d.procReadMsgs.Call(
		uintptr(channelID),
		uintptr(unsafe.Pointer(&msgs[0])),
		uintptr(unsafe.Pointer(&n)),
		uintptr(timeoutMs),
	)
	return n, status(r1)
}

func (d *DLL) WriteMsgs(channelID uint32, msgs []passthru.Msg, timeoutMs uint32) (uint32, passthru.Status) {
	if len(msgs) == 0 {
		return 0, passthru.ErrNullParameter
	}
	n := uint32(len(msgs))
	r1, _, _ := d.procWriteMsgs.Call(
		uintptr(channelID),
		uintptr(unsafe.Pointer(&msgs[0])),
		uintptr(unsafe.Pointer(&n)),
		uintptr(timeoutMs),
	)
	return n, status(r1)
}

func (d *DLL) StartPeriodicMsg(channelID uint32, msg *passthru.Msg, intervalMs uint32) (uint32, passthru.Status) {
	var id uint32
	r1, _, _ := d.procStartPeriodicMsg.Call(
		uintptr(channelID),
		uintptr(unsafe.Pointer(msg)),
		uintptr(unsafe.Pointer(&id)),
		uintptr(intervalMs),
	)
	return id, status(r1)
}

func (d *DLL) StopPeriodicMsg(channelID uint32, msgID uint32) passthru.Status {
	r1, _, _ := d.procStopPeriodicMsg.Call(uintptr(channelID), uintptr(msgID))
	return status(r1)
}

func (d *DLL) StartMsgFilter(channelID uint32, kind passthru.FilterType, mask, pattern, flowControl *passthru.Msg) (uint32, passthru.Status) {
	var id uint32
	r1, _, _ := d.procStartMsgFilter.Call(
		uintptr(channelID),
		uintptr(kind),
		uintptr(unsafe.Pointer(mask)),
		uintptr(unsafe.Pointer(pattern)),
		uintptr(unsafe.Pointer(flowControl)),
		uintptr(unsafe.Pointer(&id)),
	)
	return id, status(r1)
}

func (d *DLL) StopMsgFilter(channelID uint32, filterID uint32) passthru.Status {
	r1, _, _ := d.procStopMsgFilter.Call(uintptr(channelID), uintptr(filterID))
	return status(r1)
}

func (d *DLL) SetProgrammingVoltage(deviceID uint32, pin uint32, voltage uint32) passthru.Status {
	r1, _, _ := d.procSetProgrammingVoltage.Call(uintptr(deviceID), uintptr(pin), uintptr(voltage))
	return status(r1)
}

func (d *DLL) ReadVersion(deviceID uint32) (string, string, string, passthru.Status) {
	var fw, dll, api [versionBufferSize]byte
	r1, _, _ := d.procReadVersion.Call(
		uintptr(deviceID),
		uintptr(unsafe.Pointer(&fw[0])),
		uintptr(unsafe.Pointer(&dll[0])),
		uintptr(unsafe.Pointer(&api[0])),
	)
	return cString(fw[:]), cString(dll[:]), cString(api[:]), status(r1)
}

func (d *DLL) GetLastError() (string, passthru.Status) {
	var buf [versionBufferSize]byte
	r1, _, _ := d.procGetLastError.Call(uintptr(unsafe.Pointer(&buf[0])))
	return cString(buf[:]), status(r1)
}

func (d *DLL) Ioctl(handleID uint32, ioctl passthru.IoctlID, input, output any) passthru.Status {
	var in, out unsafe.Pointer

	switch v := input.(type) {
	case nil:
	case *passthru.ConfigList:
		list := &sconfigList{NumOfParams: uint32(len(v.Items))}
		if len(v.Items) > 0 {
			list.ConfigPtr = &v.Items[0]
		}
		in = unsafe.Pointer(list)
		defer runtime.KeepAlive(v)
	case *passthru.ByteArray:
		arr := &sbyteArray{NumOfBytes: uint32(len(v.Bytes))}
		if len(v.Bytes) > 0 {
			arr.BytePtr = &v.Bytes[0]
		}
		in = unsafe.Pointer(arr)
		defer runtime.KeepAlive(v)
	case *passthru.Msg:
		in = unsafe.Pointer(v)
	default:
		return passthru.ErrInvalidIoctlValue
	}

	var outArr *sbyteArray
	var outBuf []byte
	switch v := output.(type) {
	case nil:
	case *uint32:
		out = unsafe.Pointer(v)
	case *passthru.Msg:
		out = unsafe.Pointer(v)
	case *passthru.ByteArray:
		// FIVE_BAUD_INIT returns the sync byte and two key bytes
		outBuf = make([]byte, 8)
		outArr = &sbyteArray{NumOfBytes: uint32(len(outBuf)), BytePtr: &outBuf[0]}
		out = unsafe.Pointer(outArr)
		defer func() {
			n := outArr.NumOfBytes
			if int(n) > len(outBuf) {
				n = uint32(len(outBuf))
			}
			v.Bytes = append([]byte{}, outBuf[:n]...)
		}()
	default:
		return passthru.ErrInvalidIoctlValue
	}

	r1, _, _ := d.procIoctl.Call(uintptr(handleID), uintptr(ioctl), uintptr(in), uintptr(out))
	return status(r1)
}
