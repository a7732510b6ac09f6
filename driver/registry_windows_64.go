//go:build windows && !386

package driver

import "golang.org/x/sys/windows/registry"

// 64 位进程只读取原生视图；Wow6432Node 下的 32 位库无法被加载
const registryView uint32 = registry.WOW64_64KEY
