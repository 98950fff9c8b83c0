//go:build windows

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcpinfo

import (
	"syscall"
	"time"
	"unsafe"
)

// SIO_TCP_INFO is available to non-admins, unlike
// GetPerTcpConnectionEStats:
// https://learn.microsoft.com/en-us/windows/win32/api/iphlpapi/nf-iphlpapi-getpertcpconnectionestats
const sioTCPInfo = syscall.IOC_INOUT | syscall.IOC_VENDOR | 39

// rawInfoV0 mirrors the leading fields of _TCP_INFO_v0 (mstcpip.h) up
// to RttUs, the only one this package reads. Windows TCP_INFO has no
// RTO-equivalent field at any version, so RTO is always zero here.
type rawInfoV0 struct {
	State             uint32
	Mss               uint32
	ConnectionTimeMs  uint64
	TimestampsEnabled bool
	RttUs             uint32
}

func Supported() bool {
	return true
}

// Get issues SIO_TCP_INFO via WSAIoctl and returns the RTT it reports.
func Get(fds uintptr) (Sample, error) {
	fd := syscall.Handle(fds)

	var version uint32 = 0
	var out rawInfoV0
	var cbbr uint32
	var ov syscall.Overlapped

	if err := syscall.WSAIoctl(
		fd,
		sioTCPInfo,
		(*byte)(unsafe.Pointer(&version)),
		uint32(unsafe.Sizeof(version)),
		(*byte)(unsafe.Pointer(&out)),
		uint32(unsafe.Sizeof(out)),
		&cbbr,
		&ov,
		0,
	); err != nil {
		return Sample{}, err
	}

	return Sample{RTT: time.Duration(out.RttUs) * time.Microsecond}, nil
}
