//go:build windows && 386

package driver

// 32 位进程由 WOW64 重定向到 Wow6432Node，即 32 位供应商库的注册位置
const registryView uint32 = 0
