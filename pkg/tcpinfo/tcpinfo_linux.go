//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package tcpinfo

import "golang.org/x/sys/unix"

func Supported() bool {
	return true
}

// Get reads TCP_INFO off fd via getsockopt(IPPROTO_TCP, TCP_INFO).
// x/sys/unix already decodes the kernel's tcp_info layout for every
// Linux architecture this relay targets, so there is no reason to
// hand-track that struct (it has grown a new congestion-control
// field almost every kernel release) when all we read back out of it
// is Rtt and Rto.
func Get(fd uintptr) (Sample, error) {
	info, err := unix.GetsockoptTCPInfo(int(fd), unix.SOL_TCP, unix.TCP_INFO)
	if err != nil {
		return Sample{}, err
	}
	return sampleFromMicros(info.Rtt, info.Rto), nil
}
