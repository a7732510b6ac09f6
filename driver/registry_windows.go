//go:build windows

package driver

import (
	"fmt"
	"sort"

	"golang.org/x/sys/windows/registry"

	"github.com/LoveWonYoung/ptcomm/passthru"
)

const passThruSupportKey = `Software\PassThruSupport.04.04`

// Discover lists the PassThru interfaces registered under PassThruSupport.04.04,
// sorted by name. Only the registry view matching the process architecture is
// read, so every library found can be loaded by this process.
func Discover() ([]DeviceInfo, error) {
	root, err := registry.OpenKey(registry.LOCAL_MACHINE, passThruSupportKey, registry.ENUMERATE_SUB_KEYS|registryView)
	if err != nil {
		return nil, fmt.Errorf("open HKLM\\%s: %w", passThruSupportKey, err)
	}
	defer root.Close()

	names, err := root.ReadSubKeyNames(-1)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", passThruSupportKey, err)
	}

	var devices []DeviceInfo
	for _, name := range names {
		info, err := readDevice(passThruSupportKey + `\` + name)
		if err != nil {
			// 跳过不完整的注册项
			continue
		}
		devices = append(devices, info)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

func readDevice(path string) (DeviceInfo, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE|registryView)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer k.Close()

	var info DeviceInfo
	if info.Name, _, err = k.GetStringValue("Name"); err != nil {
		return DeviceInfo{}, err
	}
	if info.LibraryPath, _, err = k.GetStringValue("FunctionLibrary"); err != nil {
		return DeviceInfo{}, err
	}
	info.Vendor, _, _ = k.GetStringValue("Vendor")
	info.ConfigApplication, _, _ = k.GetStringValue("ConfigApplication")
	for _, p := range passthru.Protocols {
		v, _, err := k.GetIntegerValue(p.String())
		if err == nil && v != 0 {
			info.Protocols = append(info.Protocols, p)
		}
	}
	return info, nil
}
