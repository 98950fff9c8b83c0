/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package netconn

import (
	"net"
	"sync"
	"time"

	"github.com/elitcoder/transferclient/pkg/tcpinfo"
)

// Tracker accumulates per-connection instrumentation: byte counters,
// open/close/first-byte timestamps, and a TCP_INFO snapshot taken at
// open and close. Adapted from the connection-wrapping Conn type this
// project's ambient stack is grounded on; here it observes an
// Endpoint's socket from the outside rather than wrapping net.Conn,
// since Endpoint already owns the read/write loops.
type Tracker struct {
	mu sync.Mutex

	OpenedAt  int64
	ClosedAt  int64
	FirstRxAt int64
	FirstTxAt int64
	TxBytes   int64
	RxBytes   int64

	OpenedInfo *tcpinfo.Sample
	ClosedInfo *tcpinfo.Sample
}

// NewTracker starts a Tracker and immediately gathers an "opened"
// TCP_INFO snapshot from conn, if supported on this platform.
func NewTracker(conn net.Conn) *Tracker {
	t := &Tracker{OpenedAt: time.Now().UnixNano()}
	t.OpenedInfo = gatherInfo(conn)
	return t
}

func gatherInfo(conn net.Conn) *tcpinfo.Sample {
	if !tcpinfo.Supported() {
		return nil
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return nil
	}
	var sample tcpinfo.Sample
	var getErr error
	if err := rawConn.Control(func(fd uintptr) {
		sample, getErr = tcpinfo.Get(fd)
	}); err != nil || getErr != nil {
		return nil
	}
	return &sample
}

// RecordRead tracks a successful read of n bytes.
func (t *Tracker) RecordRead(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FirstRxAt == 0 {
		t.FirstRxAt = time.Now().UnixNano()
	}
	t.RxBytes += int64(n)
}

// RecordWrite tracks a successful write of n bytes.
func (t *Tracker) RecordWrite(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FirstTxAt == 0 {
		t.FirstTxAt = time.Now().UnixNano()
	}
	t.TxBytes += int64(n)
}

// Close gathers a final TCP_INFO snapshot and records the close time.
func (t *Tracker) Close(conn net.Conn) {
	info := gatherInfo(conn)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ClosedAt = time.Now().UnixNano()
	t.ClosedInfo = info
}

// Snapshot returns a copy of the counters safe to read concurrently
// with RecordRead/RecordWrite, for the metrics exporter.
func (t *Tracker) Snapshot() Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Tracker{
		OpenedAt:   t.OpenedAt,
		ClosedAt:   t.ClosedAt,
		FirstRxAt:  t.FirstRxAt,
		FirstTxAt:  t.FirstTxAt,
		TxBytes:    t.TxBytes,
		RxBytes:    t.RxBytes,
		OpenedInfo: t.OpenedInfo,
		ClosedInfo: t.ClosedInfo,
	}
}
