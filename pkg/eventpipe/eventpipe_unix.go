//go:build !windows

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package eventpipe

import (
	"os"
	"syscall"
)

// unixPipe backs EventPipe with an anonymous pipe, mirroring the
// original's pipe(2) + fcntl(O_NONBLOCK) pair.
type unixPipe struct {
	r, w *os.File
}

func newPipeImpl() (pipeImpl, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &unixPipe{r: r, w: w}, nil
}

func (u *unixPipe) signal() {
	// A single pending byte is enough; ignore write errors from a
	// pipe that is being concurrently closed.
	_, _ = u.w.Write([]byte{0})
}

func (u *unixPipe) drain() {
	rc, err := u.r.SyscallConn()
	if err != nil {
		return
	}
	// The read end is non-blocking, so reading the raw fd until it
	// reports EAGAIN empties the pipe without parking on the poller.
	_ = rc.Read(func(fd uintptr) bool {
		var buf [64]byte
		for {
			n, err := syscall.Read(int(fd), buf[:])
			if n <= 0 || err != nil {
				return true
			}
		}
	})
}

func (u *unixPipe) wait() {
	var b [1]byte
	_, _ = u.r.Read(b[:])
}

func (u *unixPipe) close() error {
	werr := u.w.Close()
	rerr := u.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
