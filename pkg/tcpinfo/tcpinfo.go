/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package tcpinfo reads the two TCP_INFO figures pkg/netconn.Tracker
// and pkg/metrics care about: smoothed round-trip time and the
// current retransmission timeout. Each OS exposes these through a
// different socket option and a different raw struct layout; the
// platform files hold just enough of each layout to reach those two
// fields and no more.
package tcpinfo

import "time"

// Sample is a TCP_INFO snapshot, reduced to what this relay exports
// as Prometheus gauges.
type Sample struct {
	RTT time.Duration
	RTO time.Duration
}

func sampleFromMicros(rttUs, rtoUs uint32) Sample {
	return Sample{
		RTT: time.Duration(rttUs) * time.Microsecond,
		RTO: time.Duration(rtoUs) * time.Microsecond,
	}
}
