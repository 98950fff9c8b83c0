/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package eventpipe implements a user-space wake-up channel that can
// be selected alongside a socket, used to cancel a blocking accept or
// select call. It is the Go analogue of the original EventPipe: a
// self-pipe on POSIX, a loopback TCP pair on Windows (see
// eventpipe_unix.go / eventpipe_windows.go).
package eventpipe

import "sync"

// EventPipe is a one-shot, coalescing wake-up signal. Signal may be
// called from any goroutine; concurrent signals coalesce into a
// single pending wake-up, matching the original's mutex-protected
// pipe write.
type EventPipe struct {
	mu   sync.Mutex
	impl pipeImpl
}

// New constructs and opens the underlying OS primitive.
func New() (*EventPipe, error) {
	impl, err := newPipeImpl()
	if err != nil {
		return nil, err
	}
	return &EventPipe{impl: impl}, nil
}

// Signal wakes any goroutine blocked reading from the pipe's read side.
func (e *EventPipe) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.impl.signal()
}

// Drain clears any pending signal without blocking.
func (e *EventPipe) Drain() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.impl.drain()
}

// Wait blocks until Signal has been called at least once since the
// last Drain, or the pipe is closed.
func (e *EventPipe) Wait() {
	e.impl.wait()
}

// Close releases the OS resources backing the pipe.
func (e *EventPipe) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.impl.close()
}

// pipeImpl is the platform-specific backing primitive.
type pipeImpl interface {
	signal()
	drain()
	wait()
	close() error
}
