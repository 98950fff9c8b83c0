/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/elitcoder/transferclient/pkg/iolayer"
	"github.com/elitcoder/transferclient/pkg/netconn"
	"github.com/elitcoder/transferclient/pkg/packet"
)

// firstDirectPort is where the free-port search for a direct listener
// begins, per §4.5.5.
const firstDirectPort = 30500

// maxDirectPortAttempts bounds the free-port search so a host with no
// free ports in range fails instead of looping forever.
const maxDirectPortAttempts = 1000

// handleIncomingInform implements the receiver's half of §4.5.5: decide
// direct vs relay, optionally open a listener and spawn its packet
// thread, and reply with INFORM_RESULT.
func (c *Controller) handleIncomingInform(relayEP *netconn.Endpoint, p packet.Packet) {
	to, err := p.GetString()
	if err != nil {
		c.log.WithError(err).Warn("malformed INFORM")
		return
	}
	file, err := p.GetString()
	if err != nil {
		c.log.WithError(err).Warn("malformed INFORM")
		return
	}
	dir, err := p.GetString()
	if err != nil {
		c.log.WithError(err).Warn("malformed INFORM")
		return
	}
	allowDirect, err := p.GetBool()
	if err != nil {
		c.log.WithError(err).Warn("malformed INFORM")
		return
	}
	_ = to

	outputPath := c.outputPath(dir, file)
	if c.isWritable(outputPath) {
		relayEP.Send(packet.NewInformResult(false, 0, 0, nil), true)
		return
	}

	wantDirect := c.Cfg.Direct && allowDirect
	if !wantDirect {
		relayEP.Send(packet.NewInformResult(true, c.nextPeerID(), 0, nil), true)
		return
	}

	ep, port, err := c.listenForDirect()
	if err != nil {
		c.log.WithError(err).Warn("no free port for direct listener, falling back to relay")
		relayEP.Send(packet.NewInformResult(true, c.nextPeerID(), 0, nil), true)
		return
	}

	addrs, err := LocalIPv4Addresses()
	if err != nil {
		c.log.WithError(err).Warn("failed enumerating local IPs")
	}

	id := c.nextPeerID()
	c.mu.Lock()
	c.peerNetworks[id] = ep
	c.mu.Unlock()

	go c.acceptDirectPeer(ep, id)

	relayEP.Send(packet.NewInformResult(true, id, int32(port), addrs), true)
}

func (c *Controller) acceptDirectPeer(ep *netconn.Endpoint, id int32) {
	conn, err := ep.AcceptConnection()
	if err != nil {
		c.mu.Lock()
		delete(c.peerNetworks, id)
		c.mu.Unlock()
		return
	}
	if err := ep.AdoptAccepted(conn); err != nil {
		return
	}
	c.track(ep)
	c.RunPacketThread(ep)
}

func (c *Controller) listenForDirect() (*netconn.Endpoint, int, error) {
	for port := firstDirectPort; port < firstDirectPort+maxDirectPortAttempts; port++ {
		ep := netconn.New(c.log)
		if err := ep.Listen(port); err != nil {
			continue
		}
		return ep, port, nil
	}
	return nil, 0, fmt.Errorf("no free port in [%d, %d)", firstDirectPort, firstDirectPort+maxDirectPortAttempts)
}

// nextPeerID hands out a small monotonically increasing identifier used
// to key peerNetworks/idToFiles; it is this client's own bookkeeping
// value, independent of whatever id scheme the Server uses for its own
// purposes.
func (c *Controller) nextPeerID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextLocalPeerID++
	return c.nextLocalPeerID
}

func (c *Controller) outputPath(dir, file string) string {
	if c.Cfg.OutputFolder == "" {
		return filepath.Join(dir, file)
	}
	return filepath.Join(c.Cfg.OutputFolder, dir, file)
}

func (c *Controller) isWritable(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.fileStreams[path]
	return ok
}

// handleSend implements the SEND workhorse of §4.5.5.
func (c *Controller) handleSend(p packet.Packet) {
	id, err := p.GetInt()
	if err != nil {
		c.log.WithError(err).Warn("malformed SEND")
		return
	}
	file, err := p.GetString()
	if err != nil {
		c.log.WithError(err).Warn("malformed SEND")
		return
	}
	dir, err := p.GetString()
	if err != nil {
		c.log.WithError(err).Warn("malformed SEND")
		return
	}
	chunk, err := p.GetBytes()
	if err != nil {
		c.log.WithError(err).Warn("malformed SEND")
		return
	}
	first, err := p.GetBool()
	if err != nil {
		c.log.WithError(err).Warn("malformed SEND")
		return
	}

	path := c.outputPath(dir, file)
	replyTo := c.senderFor(id)

	if len(chunk) == 0 {
		c.finalizeStream(id, path, replyTo)
		return
	}

	if first {
		if err := c.openForWrite(id, path); err != nil {
			if err == ErrAlreadyWritable {
				replyTo.Send(packet.NewSendResult(id, false), true)
				return
			}
			c.log.WithError(err).Warnf("failed opening %s for write", path)
			replyTo.Send(packet.NewSendResult(id, false), true)
			return
		}
	}

	if err := c.writeChunk(path, chunk); err != nil {
		c.log.WithError(err).Warnf("write error on %s", path)
		replyTo.Send(packet.NewSendResult(id, false), true)
		return
	}

	replyTo.Send(packet.NewSendResult(id, true), true)
}

// senderFor returns the endpoint to reply on for a given peer id: the
// direct endpoint if one is registered, otherwise the relay.
func (c *Controller) senderFor(id int32) *netconn.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ep, ok := c.peerNetworks[id]; ok {
		return ep
	}
	return c.relay
}

func (c *Controller) openForWrite(id int32, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.fileStreams[path]; exists {
		return ErrAlreadyWritable
	}

	dir := filepath.Dir(path)
	if err := iolayer.EnsureDir(dir); err != nil {
		return err
	}
	_ = os.Remove(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	c.fileStreams[path] = f
	c.idToFiles[id] = append(c.idToFiles[id], path)
	return nil
}

func (c *Controller) writeChunk(path string, chunk []byte) error {
	c.mu.Lock()
	f, ok := c.fileStreams[path]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no open stream for %s", ErrProtocol, path)
	}

	n, err := f.Write(chunk)
	if err != nil {
		return &ChunkWriteError{Path: path, N: n, Err: err}
	}
	if n != len(chunk) {
		return &ChunkWriteError{Path: path, N: n, Err: fmt.Errorf("short write")}
	}
	return nil
}

// finalizeStream replies SEND_RESULT(id, true) before closing the
// file handle, preserving the original's reply-before-close ordering
// (see SPEC_FULL.md §9's "possible bug" decision — intentionally kept).
func (c *Controller) finalizeStream(id int32, path string, replyTo *netconn.Endpoint) {
	replyTo.Send(packet.NewSendResult(id, true), true)

	c.mu.Lock()
	f, ok := c.fileStreams[path]
	delete(c.fileStreams, path)
	paths := c.idToFiles[id]
	for i, p := range paths {
		if p == path {
			c.idToFiles[id] = append(paths[:i], paths[i+1:]...)
			break
		}
	}
	directEP, hasDirect := c.peerNetworks[id]
	if hasDirect {
		delete(c.peerNetworks, id)
	}
	c.mu.Unlock()

	if ok {
		_ = f.Sync()
		_ = f.Close()
	}

	if hasDirect {
		c.untrack(directEP)
		c.retire(directEP)
	}
}

// handleClientDisconnect implements §4.5.5's CLIENT_DISCONNECT handler
// and §8 testable property 8.
func (c *Controller) handleClientDisconnect(p packet.Packet) {
	id, err := p.GetInt()
	if err != nil {
		c.log.WithError(err).Warn("malformed CLIENT_DISCONNECT")
		return
	}

	c.mu.Lock()
	ep, hasDirect := c.peerNetworks[id]
	if hasDirect {
		delete(c.peerNetworks, id)
	}
	paths := c.idToFiles[id]
	delete(c.idToFiles, id)
	var handles []*os.File
	for _, path := range paths {
		if f, ok := c.fileStreams[path]; ok {
			handles = append(handles, f)
			delete(c.fileStreams, path)
		}
	}
	c.mu.Unlock()

	for _, f := range handles {
		_ = f.Sync()
		_ = f.Close()
	}

	if hasDirect {
		c.untrack(ep)
		c.retire(ep)
	}
}
