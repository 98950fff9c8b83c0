/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package transfer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/elitcoder/transferclient/pkg/iolayer"
	"github.com/elitcoder/transferclient/pkg/netconn"
	"github.com/elitcoder/transferclient/pkg/packet"
)

// informReply is the parsed shape of the INFORM reply per §6: bool
// accepted, bool try_direct, int n_addr, int port, int own_id, n_addr
// strings.
type informReply struct {
	accepted  bool
	tryDirect bool
	port      int32
	ownID     int32
	addresses []string
}

func parseInformReply(p packet.Packet) (informReply, error) {
	var r informReply
	var err error
	if r.accepted, err = p.GetBool(); err != nil {
		return r, err
	}
	if r.tryDirect, err = p.GetBool(); err != nil {
		return r, err
	}
	nAddr, err := p.GetInt()
	if err != nil {
		return r, err
	}
	if r.port, err = p.GetInt(); err != nil {
		return r, err
	}
	if r.ownID, err = p.GetInt(); err != nil {
		return r, err
	}
	r.addresses = make([]string, 0, nAddr)
	for i := int32(0); i < nAddr; i++ {
		addr, err := p.GetString()
		if err != nil {
			return r, err
		}
		r.addresses = append(r.addresses, addr)
	}
	return r, nil
}

// SendPath is the entry point for one `-s` command-line argument: strip
// a trailing separator, split into (base, leaf), and recurse.
func (c *Controller) SendPath(to, path string, recurse bool) error {
	path = strings.TrimRight(path, "/\\")
	base, leaf := filepath.Split(path)
	base = strings.TrimRight(base, "/\\")
	return c.sendFile(to, leaf, "", base, recurse)
}

// sendFile implements §4.5.4: if fullPath(dirPrefix+base, leaf) is a
// directory, optionally recurse into it (skipping hidden entries);
// otherwise stream the file.
func (c *Controller) sendFile(to, leaf, dirPrefix, base string, recurse bool) error {
	full := filepath.Join(base, dirPrefix, leaf)

	if iolayer.IsDirectory(full) {
		if !recurse {
			c.log.Warnf("skipping directory %s (pass -r to recurse)", full)
			return nil
		}
		entries, err := iolayer.ListDirectory(full)
		if err != nil {
			return err
		}
		childPrefix := dirPrefix + leaf + "/"
		for _, e := range entries {
			if iolayer.IsHidden(e.Name) {
				continue
			}
			if err := c.sendFile(to, e.Name, childPrefix, base, recurse); err != nil {
				c.log.WithError(err).Warnf("failed sending %s%s", childPrefix, e.Name)
			}
		}
		return nil
	}

	return c.streamFile(to, leaf, dirPrefix, base)
}

func (c *Controller) streamFile(to, leaf, dirPrefix, base string) error {
	full := filepath.Join(base, dirPrefix, leaf)

	c.relay.Send(packet.NewInform(to, leaf, dirPrefix, c.Cfg.Direct), true)
	replyPacket, err := c.answer.wait()
	if err != nil {
		return err
	}
	if replyPacket.Header() != packet.Inform {
		return fmt.Errorf("%w: expected INFORM reply, got %v", ErrProtocol, replyPacket.Header())
	}
	reply, err := parseInformReply(replyPacket)
	if err != nil {
		return err
	}
	if !reply.accepted {
		c.log.Warnf("peer refused %s%s", dirPrefix, leaf)
		return ErrPeerRefused
	}

	direct := c.selectDirectEndpoint(reply)

	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	var totalSent int64
	err = c.streamChunks(f, to, leaf, dirPrefix, reply.ownID, direct)
	elapsed := time.Since(start)

	if direct != nil {
		c.untrack(direct)
		c.retire(direct)
	}

	if err != nil {
		return err
	}

	if info, statErr := f.Stat(); statErr == nil {
		totalSent = info.Size()
	}
	throughput := float64(0)
	if elapsed > 0 {
		throughput = float64(totalSent) / elapsed.Seconds()
	}
	c.log.Infof("sent %s%s (%d bytes) in %s (%.0f B/s)", dirPrefix, leaf, totalSent, elapsed, throughput)
	return nil
}

// selectDirectEndpoint attempts a direct connection to each candidate
// address in LAN-affinity order, skipping any already in
// failedDirectIPs, stopping at the first success. Returns nil if
// try_direct was false or every candidate failed.
func (c *Controller) selectDirectEndpoint(reply informReply) *netconn.Endpoint {
	if !reply.tryDirect || len(reply.addresses) == 0 {
		return nil
	}

	localIPs, err := LocalIPv4Addresses()
	if err != nil {
		c.log.WithError(err).Warn("failed enumerating local IPs; skipping direct attempt")
		return nil
	}
	ordered := SortCandidatesByLANAffinity(reply.addresses, localIPs)

	c.mu.Lock()
	failed := make(map[string]struct{}, len(c.failedDirectIPs))
	for ip := range c.failedDirectIPs {
		failed[ip] = struct{}{}
	}
	c.mu.Unlock()

	for _, addr := range ordered {
		if _, skip := failed[addr]; skip {
			continue
		}
		ep := netconn.New(c.log)
		if err := ep.Start(addr, int(reply.port), true); err != nil {
			c.log.WithError(err).Debugf("direct attempt to %s failed", addr)
			c.mu.Lock()
			c.failedDirectIPs[addr] = struct{}{}
			c.mu.Unlock()
			continue
		}
		c.track(ep)
		go c.RunPacketThread(ep)
		return ep
	}
	return nil
}

// streamChunks sends the file's contents over direct (if non-nil) or
// the relay, buffer_size bytes at a time, waiting for a SEND_RESULT
// after every chunk, then sends the zero-length finalizer chunk.
func (c *Controller) streamChunks(f *os.File, to, leaf, dirPrefix string, ownID int32, direct *netconn.Endpoint) error {
	buf := make([]byte, c.Cfg.BufferSize)
	first := true

	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := c.sendChunk(to, leaf, dirPrefix, ownID, buf[:n], first, direct); err != nil {
				return err
			}
			first = false
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// One retry: reopen at the current offset.
			offset, _ := f.Seek(0, io.SeekCurrent)
			if _, seekErr := f.Seek(offset, io.SeekStart); seekErr != nil {
				return readErr
			}
			n2, retryErr := f.Read(buf)
			if retryErr != nil && retryErr != io.EOF {
				return retryErr
			}
			if n2 > 0 {
				if err := c.sendChunk(to, leaf, dirPrefix, ownID, buf[:n2], first, direct); err != nil {
					return err
				}
				first = false
			}
			if retryErr == io.EOF {
				break
			}
		}
	}

	return c.sendChunk(to, leaf, dirPrefix, ownID, nil, false, direct)
}

func (c *Controller) sendChunk(to, leaf, dirPrefix string, ownID int32, chunk []byte, first bool, direct *netconn.Endpoint) error {
	var p packet.Packet
	var ep *netconn.Endpoint
	if direct != nil {
		p = packet.NewSendDirect(ownID, leaf, dirPrefix, chunk, first)
		ep = direct
	} else {
		p = packet.NewSendRelay(to, leaf, dirPrefix, chunk, first)
		ep = c.relay
	}

	ep.Send(p, true)
	reply, err := c.answer.wait()
	if err != nil {
		return err
	}
	if reply.Header() != packet.SendResult {
		return fmt.Errorf("%w: expected SEND_RESULT, got %v", ErrProtocol, reply.Header())
	}
	if _, err := reply.GetInt(); err != nil { // id, discarded
		return err
	}
	ok, err := reply.GetBool()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: receiver rejected chunk for %s%s", ErrProtocol, dirPrefix, leaf)
	}
	return nil
}
