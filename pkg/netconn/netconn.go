/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package netconn implements the framed, queued network endpoint that
// sits underneath the transfer controller: a single TCP connection (or
// listening socket) with a receive goroutine feeding an incoming packet
// queue and a send goroutine draining an outgoing packet queue (soft-
// capped for callers that ask to wait), plus the accept-cancellation plumbing needed to interrupt a
// blocked Accept() from another goroutine.
package netconn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/elitcoder/transferclient/pkg/eventpipe"
	"github.com/elitcoder/transferclient/pkg/packet"
)

// ErrShutdown is returned by blocking calls that unblocked because the
// endpoint was killed rather than because they completed normally.
var ErrShutdown = errors.New("netconn: endpoint shut down")

// ErrNotListening is returned by AcceptConnection when called on an
// endpoint that never called Listen.
var ErrNotListening = errors.New("netconn: endpoint is not listening")

const (
	// readPollInterval bounds how long a single Read blocks before the
	// receive loop re-checks the shutdown flag. Go's net.Conn offers no
	// way to select a read against an arbitrary side channel, so a
	// short rolling deadline stands in for the original's select()
	// over the socket fd and the event pipe's read fd together.
	readPollInterval = 200 * time.Millisecond

	// sendChunkSize is the maximum number of bytes written per Write
	// call in the send loop, mirroring the original's BUFFER_SIZE.
	sendChunkSize = 1 << 20

	connectRetryInterval = 100 * time.Millisecond
	connectWarnInterval  = 1500 * time.Millisecond
)

// Endpoint owns one TCP connection (client or accepted peer), or a
// listening socket pending its first accepted connection. Exactly one
// of conn or listener is meaningful at a given point in its lifecycle.
type Endpoint struct {
	ID xid.ID

	log *logrus.Entry

	mu       sync.Mutex
	conn     net.Conn
	listener net.Listener

	incoming *packetQueue
	outgoing *packetQueue
	shutdown atomic.Bool

	acceptPipe *eventpipe.EventPipe

	wg      sync.WaitGroup
	Tracker *Tracker
}

// New creates an Endpoint with no connection or listener yet attached.
func New(log *logrus.Entry) *Endpoint {
	id := xid.New()
	e := &Endpoint{
		ID:  id,
		log: log.WithField("endpoint", id.String()),
	}
	e.incoming = newPacketQueue(&e.shutdown)
	e.outgoing = newPacketQueue(&e.shutdown)
	return e
}

// Start dials host:port as a client. If fastFail is true, a single
// connection attempt is made and its error returned directly; otherwise
// Start retries at connectRetryInterval until it succeeds, logging a
// warning roughly every connectWarnInterval, mirroring
// NetworkCommunication::connect's blocking-retry client mode.
func (e *Endpoint) Start(host string, port int, fastFail bool) error {
	addr := fmt.Sprintf("%s:%d", host, port)

	if fastFail {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			return err
		}
		return e.adopt(conn)
	}

	var lastWarn time.Time
	for {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			return e.adopt(conn)
		}
		if time.Since(lastWarn) >= connectWarnInterval {
			e.log.WithError(err).Warnf("still trying to connect to %s", addr)
			lastWarn = time.Now()
		}
		time.Sleep(connectRetryInterval)
	}
}

func (e *Endpoint) adopt(conn net.Conn) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	e.Tracker = NewTracker(conn)
	e.spawnLoops()
	return nil
}

// Listen opens a listening socket on port without accepting any
// connections. AcceptConnection must be called (repeatedly, for a
// multi-client host) to actually adopt peers.
func (e *Endpoint) Listen(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	pipe, err := eventpipe.New()
	if err != nil {
		ln.Close()
		return err
	}
	e.mu.Lock()
	e.listener = ln
	e.mu.Unlock()
	e.acceptPipe = pipe
	return nil
}

// AcceptConnection blocks until a peer connects, the listener is
// closed, or the accept is cancelled (CancelAccept or Kill). On success
// it returns the accepted connection without adopting it; the caller
// wires it into an Endpoint with AdoptAccepted (receive.go's
// acceptDirectPeer adopts it into this same listening Endpoint).
func (e *Endpoint) AcceptConnection() (net.Conn, error) {
	e.mu.Lock()
	ln := e.listener
	e.mu.Unlock()
	if ln == nil {
		return nil, ErrNotListening
	}

	type result struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- result{conn, err}
	}()

	cancelCh := make(chan struct{})
	go func() {
		e.acceptPipe.Wait()
		close(cancelCh)
	}()

	select {
	case r := <-acceptCh:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-cancelCh:
		ln.Close()
		r := <-acceptCh
		if r.conn != nil {
			r.conn.Close()
		}
		return nil, ErrShutdown
	}
}

// CancelAccept interrupts a blocked AcceptConnection call.
func (e *Endpoint) CancelAccept() {
	if e.acceptPipe != nil {
		e.acceptPipe.Signal()
	}
}

// AdoptAccepted wires up an already-accepted connection (returned by
// AcceptConnection) as this Endpoint's live connection and starts its
// receive/send loops. Used by a host that spins up one Endpoint per
// accepted peer.
func (e *Endpoint) AdoptAccepted(conn net.Conn) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	e.Tracker = NewTracker(conn)
	e.spawnLoops()
	return nil
}

func (e *Endpoint) spawnLoops() {
	e.wg.Add(2)
	go e.receiveLoop()
	go e.sendLoop()
}

// Send enqueues a clone of p for transmission, so the caller's buffer
// is never shared with the send goroutine. If wait is true, Send blocks
// while the outgoing queue is at or above OutgoingSoftCap, applying
// backpressure to a fast producer.
func (e *Endpoint) Send(p packet.Packet, wait bool) {
	e.outgoing.push(p.Clone(), wait)
}

// WaitForPacket blocks until a packet is available to read and returns
// it without removing it from the queue; call CompletePacket once
// finished processing it. Returns ErrShutdown if the endpoint was
// killed while waiting.
func (e *Endpoint) WaitForPacket() (packet.Packet, error) {
	p, ok := e.incoming.waitNonEmpty()
	if !ok {
		return packet.Packet{}, ErrShutdown
	}
	return p, nil
}

// CompletePacket removes the head of the incoming queue, the
// counterpart to WaitForPacket.
func (e *Endpoint) CompletePacket() {
	e.incoming.pop()
}

// Killed reports whether Kill has been called.
func (e *Endpoint) Killed() bool {
	return e.shutdown.Load()
}

// Conn returns the endpoint's underlying connection, or nil if it
// hasn't connected/accepted one yet (e.g. a listener awaiting its
// first peer).
func (e *Endpoint) Conn() net.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// triggerShutdown flips the shutdown flag (once) and wakes every
// blocked waiter: the two queues, a pending AcceptConnection, and
// either loop's blocked Read/Write. It never blocks, so it is safe to
// call from inside receiveLoop or sendLoop themselves as well as from
// Kill.
func (e *Endpoint) triggerShutdown() {
	if !e.shutdown.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	conn := e.conn
	ln := e.listener
	e.mu.Unlock()

	if e.acceptPipe != nil {
		e.acceptPipe.Signal()
	}
	e.incoming.wakeAll()
	e.outgoing.wakeAll()

	if conn != nil {
		_ = conn.SetDeadline(time.Now())
	}
	if ln != nil {
		_ = ln.Close()
	}
}

// Kill tears the endpoint down. If safe is true, it first waits for the
// outgoing queue to drain so that already-queued packets get a chance
// to go out before the connection closes, mirroring the original's
// kill(bool safe_kill) distinction between an abrupt disconnect and a
// graceful one. Kill must not be called from within receiveLoop or
// sendLoop; they trigger shutdown themselves and let Kill's caller
// (the controller) join them.
func (e *Endpoint) Kill(safe bool) {
	if safe {
		e.outgoing.waitEmpty()
	}

	e.triggerShutdown()
	e.wg.Wait()

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn != nil {
		if e.Tracker != nil {
			e.Tracker.Close(conn)
		}
		_ = conn.Close()
	}
}
