//go:build windows

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package eventpipe

import (
	"net"
	"time"
)

// windowsPipe backs EventPipe with a loopback TCP pair, since Windows
// has no anonymous-pipe-as-selectable-socket equivalent. Mirrors the
// original's createWindowsPipe helper.
type windowsPipe struct {
	r, w net.Conn
}

func newPipeImpl() (pipeImpl, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	w, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		return nil, err
	}

	select {
	case r := <-acceptCh:
		return &windowsPipe{r: r, w: w}, nil
	case err := <-errCh:
		w.Close()
		return nil, err
	}
}

func (p *windowsPipe) signal() {
	_, _ = p.w.Write([]byte{0})
}

func (p *windowsPipe) drain() {
	// A deadline already in the past fails Read before it looks at
	// buffered bytes, so allow a short window to read them out.
	_ = p.r.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	var buf [64]byte
	for {
		n, err := p.r.Read(buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	_ = p.r.SetReadDeadline(time.Time{})
}

func (p *windowsPipe) wait() {
	var b [1]byte
	_, _ = p.r.Read(b[:])
}

func (p *windowsPipe) close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
