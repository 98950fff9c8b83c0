/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package netconn

import (
	"sync"
	"sync/atomic"

	"github.com/elitcoder/transferclient/pkg/packet"
)

// OutgoingSoftCap is the backpressure threshold from the framing spec:
// a caller that opts to wait blocks until the outgoing queue drops
// below this many packets.
const OutgoingSoftCap = 10

// packetQueue is a FIFO of packets guarded by a mutex, with a
// condition variable for blocking waiters and a second condition
// variable dedicated to backpressure (waiters for "below the soft
// cap"), matching NetworkCommunication's incoming/outgoing queue pair.
type packetQueue struct {
	mu           sync.Mutex
	notEmpty     *sync.Cond
	belowCap     *sync.Cond
	items        []packet.Packet
	shutdownFlag *atomic.Bool // shared with the owning Endpoint
}

func newPacketQueue(shutdownFlag *atomic.Bool) *packetQueue {
	q := &packetQueue{shutdownFlag: shutdownFlag}
	q.notEmpty = sync.NewCond(&q.mu)
	q.belowCap = sync.NewCond(&q.mu)
	return q
}

// push appends a packet. If wait is true, the caller first blocks
// until the queue has fewer than OutgoingSoftCap items.
func (q *packetQueue) push(p packet.Packet, wait bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if wait {
		for len(q.items) >= OutgoingSoftCap && !q.shutdownFlag.Load() {
			q.belowCap.Wait()
		}
	}

	q.items = append(q.items, p)
	q.notEmpty.Signal()
}

// waitNonEmpty blocks until the queue is non-empty or shutdown is set,
// then returns a copy of (but does not remove) the head packet.
// The bool is false iff shutdown fired first.
func (q *packetQueue) waitNonEmpty() (packet.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.shutdownFlag.Load() {
		q.notEmpty.Wait()
	}

	if len(q.items) == 0 {
		return packet.Packet{}, false
	}
	return q.items[0], true
}

// pop removes the head packet and wakes any backpressure waiters.
func (q *packetQueue) pop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.belowCap.Broadcast()
}

func (q *packetQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *packetQueue) isEmpty() bool {
	return q.len() == 0
}

// waitEmpty blocks until the queue has no pending items. Used by
// Kill(safe=true).
func (q *packetQueue) waitEmpty() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 {
		q.belowCap.Wait()
	}
}

// wakeAll broadcasts every condition variable the queue owns, used
// when shutdown is flipped so that any blocked waiter re-checks the
// shutdown flag and returns.
func (q *packetQueue) wakeAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.belowCap.Broadcast()
}
