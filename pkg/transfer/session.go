/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package transfer

import (
	"fmt"

	"github.com/elitcoder/transferclient/pkg/packet"
)

// ProtocolVersion is sent in the INITIALIZE handshake.
const ProtocolVersion = "1.0"

// oldProtocolCode is the code INITIALIZE's reply carries when the
// Server rejects this client's protocol version and expects it to
// self-update before retrying.
const oldProtocolCode = int32(1)

// HostEntry is one (id, name) pair in an AVAILABLE reply.
type HostEntry struct {
	ID   int32
	Name string
}

// StartSession runs the INITIALIZE/JOIN handshake described in §4.5.2.
// On success the caller may proceed to ListHosts or SendPath. On an old-protocol rejection, the
// configured Updater is invoked with the server-provided URLs and
// ErrOldProtocol is returned after the update attempt completes (or
// fails) so the caller can exit non-zero either way, matching the
// original's unconditional termination on this path.
func (c *Controller) StartSession(name string) error {
	c.relay.Send(packet.NewInitialize(ProtocolVersion), true)
	reply, err := c.answer.wait()
	if err != nil {
		return err
	}
	if reply.Header() != packet.Initialize {
		return fmt.Errorf("%w: expected INITIALIZE reply, got %v", ErrProtocol, reply.Header())
	}

	accepted, err := reply.GetBool()
	if err != nil {
		return err
	}
	if !accepted {
		return c.handleOldProtocol(reply)
	}

	c.relay.Send(packet.NewJoin(name), true)
	joinReply, err := c.answer.wait()
	if err != nil {
		return err
	}
	if joinReply.Header() != packet.Join {
		return fmt.Errorf("%w: expected JOIN reply, got %v", ErrProtocol, joinReply.Header())
	}
	joinAccepted, err := joinReply.GetBool()
	if err != nil {
		return err
	}
	if !joinAccepted {
		return ErrJoinRefused
	}

	return nil
}

func (c *Controller) handleOldProtocol(reply packet.Packet) error {
	code, err := reply.GetInt()
	if err != nil {
		return err
	}
	if code != oldProtocolCode {
		return fmt.Errorf("%w: code %d", ErrProtocol, code)
	}

	binaryURL, err := reply.GetString()
	if err != nil {
		return err
	}
	scriptURL, err := reply.GetString()
	if err != nil {
		return err
	}
	windowsURL, err := reply.GetString()
	if err != nil {
		return err
	}

	if c.Updater != nil {
		if uerr := c.Updater.Update(binaryURL, scriptURL, windowsURL); uerr != nil {
			c.log.WithError(uerr).Error("auto-update failed")
		}
	}
	return ErrOldProtocol
}

// ListHosts sends AVAILABLE and returns the Server's reply.
func (c *Controller) ListHosts() ([]HostEntry, error) {
	c.relay.Send(packet.NewAvailable(), true)
	reply, err := c.answer.wait()
	if err != nil {
		return nil, err
	}
	if reply.Header() != packet.Available {
		return nil, fmt.Errorf("%w: expected AVAILABLE reply, got %v", ErrProtocol, reply.Header())
	}

	n, err := reply.GetInt()
	if err != nil {
		return nil, err
	}
	hosts := make([]HostEntry, 0, n)
	for i := int32(0); i < n; i++ {
		id, err := reply.GetInt()
		if err != nil {
			return nil, err
		}
		name, err := reply.GetString()
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, HostEntry{ID: id, Name: name})
	}
	return hosts, nil
}
