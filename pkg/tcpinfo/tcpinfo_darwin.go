//go:build darwin

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

	"golang.org/x/sys/unix"
)

// rawInfo mirrors the leading fields of xnu's tcp_connection_info
// (bsd/netinet/tcp.h) up to tcpi_srtt, the last one this package
// reads:
//
//	u_int8_t  tcpi_state;
//	u_int8_t  tcpi_snd_wscale;
//	u_int8_t  tcpi_rcv_wscale;
//	u_int8_t  __pad1;
//	u_int32_t tcpi_options;
//	u_int32_t tcpi_flags;
//	u_int32_t tcpi_rto;
//	u_int32_t tcpi_maxseg;
//	u_int32_t tcpi_snd_ssthresh;
//	u_int32_t tcpi_snd_cwnd;
//	u_int32_t tcpi_snd_wnd;
//	u_int32_t tcpi_snd_sbbytes;
//	u_int32_t tcpi_rcv_wnd;
//	u_int32_t tcpi_rttcur;
//	u_int32_t tcpi_srtt;
//	...
//
// getsockopt(2) truncates its copy to sizeof(rawInfo), so the fields
// after tcpi_srtt (retransmit/byte counters, TFO bitfield) are never
// written into this struct at all.
type rawInfo struct {
	state       uint8
	sndWscale   uint8
	rcvWscale   uint8
	_           uint8
	options     uint32
	flags       uint32
	rto         uint32
	maxSeg      uint32
	sndSSThresh uint32
	sndCwnd     uint32
	sndWnd      uint32
	sndSBBytes  uint32
	rcvWnd      uint32
	rttCur      uint32
	srtt        uint32
}

func Supported() bool {
	return true
}

// Get reads TCP_CONNECTION_INFO off fd, xnu's equivalent of Linux's
// TCP_INFO.
func Get(fd uintptr) (Sample, error) {
	var raw rawInfo
	length := uint32(unsafe.Sizeof(raw))
	_, _, errno := syscall.Syscall6(
		syscall.SYS_GETSOCKOPT,
		fd,
		syscall.IPPROTO_TCP,
		unix.TCP_CONNECTION_INFO,
		uintptr(unsafe.Pointer(&raw)),
		uintptr(unsafe.Pointer(&length)),
		0,
	)
	if errno != 0 {
		return Sample{}, errno
	}
	return Sample{
		RTT: time.Duration(raw.srtt) * time.Millisecond,
		RTO: time.Duration(raw.rto) * time.Millisecond,
	}, nil
}
