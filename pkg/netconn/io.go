/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package netconn

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/elitcoder/transferclient/pkg/packet"
)

// receiveLoop reads bytes off the connection, feeds them through a
// packet.Reassembler, and pushes completed packets onto the incoming
// queue. It polls the shutdown flag via a rolling read deadline rather
// than blocking indefinitely, since net.Conn offers no way to select a
// pending Read against a side-channel wakeup the way the original
// selects the socket fd alongside its event pipe's read fd.
func (e *Endpoint) receiveLoop() {
	defer e.wg.Done()
	defer e.triggerShutdown()

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	reassembler := &packet.Reassembler{}
	buf := make([]byte, 64*1024)

	for !e.shutdown.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := conn.Read(buf)
		if n > 0 {
			if e.Tracker != nil {
				e.Tracker.RecordRead(n)
			}
			if ferr := reassembler.FeedAll(buf[:n]); ferr != nil {
				e.log.WithError(ferr).Warn("malformed frame, closing connection")
				return
			}
			for _, p := range reassembler.TakeCompleted() {
				e.incoming.push(p, false)
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				e.log.Debug("peer closed connection")
			} else if !e.shutdown.Load() {
				e.log.WithError(err).Debug("read error")
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// sendLoop drains the outgoing queue, writing each packet's bytes in
// chunks of at most sendChunkSize, tracking partial progress across
// Write calls the way the original's send loop tracks sent/total.
func (e *Endpoint) sendLoop() {
	defer e.wg.Done()
	defer e.triggerShutdown()

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	for {
		p, ok := e.outgoing.waitNonEmpty()
		if !ok {
			return
		}

		data := p.Bytes()
		sent := 0
		for sent < len(data) {
			end := sent + sendChunkSize
			if end > len(data) {
				end = len(data)
			}
			n, err := conn.Write(data[sent:end])
			if n > 0 {
				sent += n
				if e.Tracker != nil {
					e.Tracker.RecordWrite(n)
				}
			}
			if err != nil {
				if !e.shutdown.Load() {
					e.log.WithError(err).Debug("write error")
				}
				return
			}
		}

		e.outgoing.pop()
	}
}
