/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package transfer implements the relay-mediated file-transfer
// protocol on top of pkg/netconn: session startup and negotiation
// (session.go), outbound file streaming (send.go), inbound packet
// handlers (receive.go), and the LAN-heuristic address sorter used to
// prefer a direct connection (localip.go). Controller is the shared
// state a packet thread per pkg/netconn.Endpoint dispatches into,
// grounded on CLI.{h,cpp}'s Transfer-Client controller.
package transfer

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/elitcoder/transferclient/pkg/config"
	"github.com/elitcoder/transferclient/pkg/metrics"
	"github.com/elitcoder/transferclient/pkg/netconn"
	"github.com/elitcoder/transferclient/pkg/packet"
	"github.com/elitcoder/transferclient/pkg/update"
)

// Role distinguishes the two mutually exclusive operating modes a
// process runs in, selected once from CLI flags at startup. A sender
// never receives unsolicited INFORM requests; a receiver never issues
// its own INFORM/SEND requests. This resolves the wire format's reuse
// of the Inform header for both a request and its reply: which one a
// given Controller sees is determined entirely by its Role.
type Role int

const (
	RoleReceiver Role = iota
	RoleSender
)

// Protocol errors surfaced to callers.
var (
	ErrAnswerInFlight  = errors.New("transfer: a wait_for_answer call is already outstanding")
	ErrShutdown        = errors.New("transfer: controller shut down")
	ErrProtocol        = errors.New("transfer: unexpected reply shape")
	ErrPeerRefused     = errors.New("transfer: peer refused")
	ErrJoinRefused     = errors.New("transfer: server refused join")
	ErrOldProtocol     = errors.New("transfer: server reports an old protocol version")
	ErrAlreadyWritable = errors.New("transfer: output path already open for write")
)

// ChunkWriteError wraps a short or failed disk write of an inbound
// chunk, named per the error taxonomy this protocol assumes.
type ChunkWriteError struct {
	Path string
	N    int
	Err  error
}

func (e *ChunkWriteError) Error() string {
	return fmt.Sprintf("transfer: short write to %s (%d bytes): %v", e.Path, e.N, e.Err)
}

func (e *ChunkWriteError) Unwrap() error { return e.Err }

// retiredEndpoint is a killed endpoint awaiting join by a packet thread
// other than its own, per §4.5.7.
type retiredEndpoint struct {
	id   xid.ID
	ep   *netconn.Endpoint
	done chan struct{}
}

// Controller is the shared state every packet thread dispatches into.
// Exactly one global mutex (dispatchMu) serializes dispatch across
// endpoints, matching the "controller mutex" of the design; mu guards
// the ids and maps below and is taken by the handlers themselves.
type Controller struct {
	Cfg     *config.Config
	Role    Role
	Updater update.Updater
	Metrics *metrics.Collector
	log     *logrus.Entry

	relay *netconn.Endpoint

	dispatchMu sync.Mutex

	mu              sync.Mutex
	clientID        int32
	nextLocalPeerID int32
	fileStreams     map[string]*os.File
	idToFiles       map[int32][]string
	peerNetworks    map[int32]*netconn.Endpoint
	failedDirectIPs map[string]struct{}

	retiredMu sync.Mutex
	retired   []*retiredEndpoint

	answer answerMailbox
}

// New constructs a Controller. relay is the already-started endpoint
// connected to the Server; its packet thread must be started separately
// via RunPacketThread so callers can control ordering during tests.
func New(cfg *config.Config, role Role, relay *netconn.Endpoint, log *logrus.Entry) *Controller {
	c := &Controller{
		Cfg:             cfg,
		Role:            role,
		Updater:         &update.HTTPUpdater{},
		log:             log,
		relay:           relay,
		fileStreams:     make(map[string]*os.File),
		idToFiles:       make(map[int32][]string),
		peerNetworks:    make(map[int32]*netconn.Endpoint),
		failedDirectIPs: make(map[string]struct{}),
	}
	c.answer.init()
	return c
}

// Relay returns the controller's connection to the Server.
func (c *Controller) Relay() *netconn.Endpoint { return c.relay }

// TrackRelay registers the relay endpoint with Metrics, a no-op if
// Metrics was never assigned. Call once after setting Controller.Metrics
// and before RunPacketThread starts draining it.
func (c *Controller) TrackRelay() {
	c.track(c.relay)
}

// track registers ep with Metrics under the remote address it connects
// to, so Collect() has something to report; untrack undoes it when ep
// is retired. Both are no-ops with Metrics unset, which is the case in
// tests that construct a Controller directly.
func (c *Controller) track(ep *netconn.Endpoint) {
	if c.Metrics == nil || ep == nil {
		return
	}
	peer := ""
	if conn := ep.Conn(); conn != nil {
		peer = conn.RemoteAddr().String()
	}
	c.Metrics.Add(ep.ID.String(), ep.Conn(), ep.Tracker, []string{peer})
}

func (c *Controller) untrack(ep *netconn.Endpoint) {
	if c.Metrics == nil || ep == nil {
		return
	}
	c.Metrics.Remove(ep.ID.String())
}

// ClientID returns the controller's clientID field. The INITIALIZE and
// JOIN replies StartSession reads carry no id and nothing in this
// package assigns the field, so it is zero.
func (c *Controller) ClientID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// RunPacketThread drains retired endpoints, dispatches every packet
// received on ep until it shuts down, and completes each packet after
// dispatch. It is meant to be run in its own goroutine per endpoint,
// matching packetThread in Transfer-Client.cpp.
func (c *Controller) RunPacketThread(ep *netconn.Endpoint) {
	for {
		p, err := ep.WaitForPacket()
		if err != nil {
			return
		}

		c.drainRetired(ep.ID)

		c.dispatchMu.Lock()
		c.dispatch(ep, p)
		c.dispatchMu.Unlock()

		ep.CompletePacket()
	}
}

func (c *Controller) dispatch(ep *netconn.Endpoint, p packet.Packet) {
	switch p.Header() {
	case packet.Initialize, packet.Join, packet.Available, packet.SendResult:
		c.answer.deliver(p)
	case packet.Inform:
		if c.Role == RoleSender {
			c.answer.deliver(p)
		} else {
			c.handleIncomingInform(ep, p)
		}
	case packet.Send:
		c.handleSend(p)
	case packet.ClientDisconnect:
		c.handleClientDisconnect(p)
	case packet.InformResult:
		c.log.Warn("received unexpected INFORM_RESULT; this header is only ever sent, never received, by a client")
	default:
		c.log.WithField("header", p.Header()).Warn("unhandled packet header")
	}
}

// retire moves ep into the retired list for the next packet thread to
// join, per the "a thread must not join itself" rule.
func (c *Controller) retire(ep *netconn.Endpoint) {
	done := make(chan struct{})
	go func() {
		ep.Kill(false)
		close(done)
	}()
	c.retiredMu.Lock()
	c.retired = append(c.retired, &retiredEndpoint{id: ep.ID, ep: ep, done: done})
	c.retiredMu.Unlock()
}

// drainRetired joins every retired endpoint whose id differs from
// exceptID, removing them from the list.
func (c *Controller) drainRetired(exceptID xid.ID) {
	c.retiredMu.Lock()
	remaining := c.retired[:0]
	var toJoin []*retiredEndpoint
	for _, r := range c.retired {
		if r.id == exceptID {
			remaining = append(remaining, r)
		} else {
			toJoin = append(toJoin, r)
		}
	}
	c.retired = remaining
	c.retiredMu.Unlock()

	for _, r := range toJoin {
		<-r.done
	}
}

// Shutdown kills the relay endpoint, wakes any blocked wait_for_answer
// caller, and joins every retired endpoint.
func (c *Controller) Shutdown() {
	c.answer.shutdown()
	if c.relay != nil {
		c.untrack(c.relay)
		c.relay.Kill(false)
	}
	c.drainRetired(xid.ID{})
}

// answerMailbox is the single-slot synchronous rendezvous between the
// packet thread and the caller thread, grounded on CLI::waitForAnswer/
// notifyWaiting. At most one wait_for_answer call may be outstanding;
// a second concurrent call is rejected with ErrAnswerInFlight rather
// than silently racing (see SPEC_FULL.md §9's decided Open Question).
type answerMailbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *packet.Packet
	waiting atomic.Bool
	killed  atomic.Bool
}

func (m *answerMailbox) init() {
	m.cond = sync.NewCond(&m.mu)
}

func (m *answerMailbox) wait() (packet.Packet, error) {
	if !m.waiting.CompareAndSwap(false, true) {
		return packet.Packet{}, ErrAnswerInFlight
	}
	defer m.waiting.Store(false)

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.pending == nil && !m.killed.Load() {
		m.cond.Wait()
	}
	if m.pending == nil {
		return packet.Packet{}, ErrShutdown
	}
	p := m.pending.Clone()
	m.pending = nil
	return p, nil
}

func (m *answerMailbox) deliver(p packet.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p.Clone()
	m.pending = &cp
	m.cond.Signal()
}

func (m *answerMailbox) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killed.Store(true)
	m.cond.Broadcast()
}
