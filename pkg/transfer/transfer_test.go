package transfer

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/elitcoder/transferclient/pkg/config"
	"github.com/elitcoder/transferclient/pkg/netconn"
	"github.com/elitcoder/transferclient/pkg/packet"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

// relayPair returns two live, connected *netconn.Endpoint values with
// their loops running, standing in for the sender's and receiver's
// respective connections to the Server. Production code never talks to
// the Server directly in these tests; it talks to "the other side" of
// this pipe exactly as it would talk to the real relay, since the
// relay's job (per spec.md §1) is pure forwarding.
func relayPair(t *testing.T) (sideA, sideB *netconn.Endpoint) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptCh <- c
		}
		ln.Close()
	}()

	sideA = netconn.New(testLog())
	if err := sideA.Start("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := <-acceptCh
	sideB = netconn.New(testLog())
	if err := sideB.AdoptAccepted(conn); err != nil {
		t.Fatalf("AdoptAccepted: %v", err)
	}
	return sideA, sideB
}

// fakeServer stands in for the out-of-scope Server in integration
// tests: it accepts exactly two client connections (the first is
// treated as the sender, the second as the receiver), answers
// INITIALIZE/JOIN itself, and performs the forwarding — including the
// INFORM_RESULT -> INFORM-reply shape translation and the relay SEND's
// string `to` -> int `id` rewrite — that spec.md §6's "as received" row
// and §9's second "possible bug" note assume the real Server performs.
// It only supports a single concurrent transfer, which is all these
// tests need.
type fakeServer struct {
	ln net.Listener
}

func startFakeServer(t *testing.T) (addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		senderConn, err := ln.Accept()
		if err != nil {
			return
		}
		receiverConn, err := ln.Accept()
		if err != nil {
			return
		}
		ln.Close()
		runFakeServer(senderConn, receiverConn)
	}()

	return ln.Addr().String()
}

func runFakeServer(senderConn, receiverConn net.Conn) {
	senderOut := make(chan packet.Packet, 64)
	receiverOut := make(chan packet.Packet, 64)
	go pumpWrites(senderConn, senderOut)
	go pumpWrites(receiverConn, receiverOut)

	var mu sync.Mutex
	var transferName string
	nameToID := map[string]int32{}

	handle := func(from string, p packet.Packet) {
		mu.Lock()
		defer mu.Unlock()
		switch p.Header() {
		case packet.Initialize:
			reply := packet.New(packet.Initialize)
			reply.AddBool(true)
			reply.Finalize()
			if from == "sender" {
				senderOut <- reply
			} else {
				receiverOut <- reply
			}
		case packet.Join:
			reply := packet.New(packet.Join)
			reply.AddBool(true)
			reply.Finalize()
			if from == "sender" {
				senderOut <- reply
			} else {
				receiverOut <- reply
			}
		case packet.Inform:
			transferName, _ = p.GetString()
			receiverOut <- p
		case packet.InformResult:
			accept, _ := p.GetBool()
			id, _ := p.GetInt()
			nAddr, _ := p.GetInt()
			port, _ := p.GetInt()
			addrs := make([]string, 0, nAddr)
			for i := int32(0); i < nAddr; i++ {
				a, _ := p.GetString()
				addrs = append(addrs, a)
			}
			nameToID[transferName] = id

			reply := packet.New(packet.Inform)
			reply.AddBool(accept)
			reply.AddBool(nAddr > 0)
			reply.AddInt(nAddr)
			reply.AddInt(port)
			reply.AddInt(id)
			for _, a := range addrs {
				reply.AddString(a)
			}
			reply.Finalize()
			senderOut <- reply
		case packet.Send:
			to, _ := p.GetString()
			file, _ := p.GetString()
			dir, _ := p.GetString()
			chunk, _ := p.GetBytesCopy()
			first, _ := p.GetBool()
			id := nameToID[to]
			receiverOut <- packet.NewSendDirect(id, file, dir, chunk, first)
		case packet.SendResult:
			id, _ := p.GetInt()
			ok, _ := p.GetBool()
			senderOut <- packet.NewSendResult(id, ok)
		case packet.ClientDisconnect:
			// not forwarded in these tests
		}
	}

	pumpReads(senderConn, func(p packet.Packet) { handle("sender", p) })
	pumpReads(receiverConn, func(p packet.Packet) { handle("receiver", p) })
}

func pumpReads(conn net.Conn, onPacket func(packet.Packet)) {
	go func() {
		r := &packet.Reassembler{}
		buf := make([]byte, 64*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if ferr := r.FeedAll(buf[:n]); ferr != nil {
					return
				}
				for _, p := range r.TakeCompleted() {
					onPacket(p)
				}
			}
			if err != nil {
				return
			}
		}
	}()
}

func tcpPort(t *testing.T, addr string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		t.Fatalf("parsing port %q: %v", portStr, err)
	}
	return port
}

func pumpWrites(conn net.Conn, out <-chan packet.Packet) {
	for p := range out {
		if _, err := conn.Write(p.Bytes()); err != nil {
			return
		}
	}
}

// TestRelayTransferRoundTrip exercises S2: a sender streams a multi-chunk
// file over the relay pipe and the receiver reconstructs it byte for byte.
func TestRelayTransferRoundTrip(t *testing.T) {
	addr := startFakeServer(t)

	senderEP := netconn.New(testLog())
	if err := senderEP.Start("127.0.0.1", tcpPort(t, addr), true); err != nil {
		t.Fatalf("sender Start: %v", err)
	}
	defer senderEP.Kill(false)

	receiverEP := netconn.New(testLog())
	if err := receiverEP.Start("127.0.0.1", tcpPort(t, addr), true); err != nil {
		t.Fatalf("receiver Start: %v", err)
	}
	defer receiverEP.Kill(false)

	senderDir := t.TempDir()
	srcPath := filepath.Join(senderDir, "payload.bin")
	const size = 9 * 1024 // keep the test fast; size isn't the property under test
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	senderCfg := config.New()
	senderCfg.BufferSize = 4096
	senderCfg.Direct = false
	sender := New(senderCfg, RoleSender, senderEP, testLog())
	go sender.RunPacketThread(senderEP)
	if err := sender.StartSession("alice"); err != nil {
		t.Fatalf("sender StartSession: %v", err)
	}

	receiverOutDir := t.TempDir()
	receiverCfg := config.New()
	receiverCfg.OutputFolder = receiverOutDir
	receiverCfg.Direct = false
	receiver := New(receiverCfg, RoleReceiver, receiverEP, testLog())
	go receiver.RunPacketThread(receiverEP)
	if err := receiver.StartSession("bob"); err != nil {
		t.Fatalf("receiver StartSession: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sender.SendPath("bob", srcPath, false) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendPath: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SendPath did not complete")
	}

	got, err := os.ReadFile(filepath.Join(receiverOutDir, "payload.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(content) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(content))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("byte %d mismatch: got %x want %x", i, got[i], content[i])
		}
	}
}

// TestDoubleWriteRefusal exercises §8 property 7 directly against the
// receiver's SEND handler: two first=true SENDs to the same output path
// from different ids; the second must be refused and the first file
// left untouched.
func TestDoubleWriteRefusal(t *testing.T) {
	senderEP, receiverEP := relayPair(t)
	defer senderEP.Kill(false)
	defer receiverEP.Kill(false)
	outDir := t.TempDir()
	cfg := config.New()
	cfg.OutputFolder = outDir
	c := New(cfg, RoleReceiver, receiverEP, testLog())

	c.handleSend(mustSend(1, "f.bin", "", []byte("first-payload"), true))
	c.handleSend(mustSend(2, "f.bin", "", []byte("second-payload"), true))

	got, err := os.ReadFile(filepath.Join(outDir, "f.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "first-payload" {
		t.Fatalf("file contents changed: %q", got)
	}

	c.finalizeStream(1, filepath.Join(outDir, "f.bin"), c.relay)
}

// TestFinalizerOrdering exercises §8 property 6 / SPEC_FULL.md's
// preserved "possible bug" on the finalizer path: finalizeStream sends
// SEND_RESULT(id, true) and closes the file handle. The test checks that
// the handle is closed afterwards; the reply-before-close order itself
// is fixed by finalizeStream's code and is not observed here.
func TestFinalizerOrdering(t *testing.T) {
	senderEP, receiverEP := relayPair(t)
	defer senderEP.Kill(false)
	defer receiverEP.Kill(false)
	outDir := t.TempDir()
	cfg := config.New()
	cfg.OutputFolder = outDir
	c := New(cfg, RoleReceiver, receiverEP, testLog())

	path := filepath.Join(outDir, "ordering.bin")
	c.handleSend(mustSend(9, "ordering.bin", "", []byte("data"), true))

	c.mu.Lock()
	f := c.fileStreams[path]
	c.mu.Unlock()
	if f == nil {
		t.Fatal("expected an open stream before finalizing")
	}

	closed := make(chan struct{})
	orig := f
	go func() {
		// finalizeStream sends SEND_RESULT first, then closes orig.
		c.finalizeStream(9, path, c.relay)
		close(closed)
	}()

	<-closed
	if err := orig.Close(); err == nil {
		t.Fatal("finalizeStream left the stream open: re-closing it succeeded")
	}
}

// TestClientDisconnectCleanup exercises §8 property 8.
func TestClientDisconnectCleanup(t *testing.T) {
	senderEP, receiverEP := relayPair(t)
	defer senderEP.Kill(false)
	defer receiverEP.Kill(false)
	outDir := t.TempDir()
	cfg := config.New()
	cfg.OutputFolder = outDir
	c := New(cfg, RoleReceiver, receiverEP, testLog())

	c.handleSend(mustSend(5, "partial.bin", "", []byte("chunk-one"), true))

	path := filepath.Join(outDir, "partial.bin")
	c.mu.Lock()
	_, open := c.fileStreams[path]
	c.mu.Unlock()
	if !open {
		t.Fatal("expected an open stream after the first chunk")
	}

	disc := packet.NewClientDisconnect(5)
	c.handleClientDisconnect(disc)

	c.mu.Lock()
	_, stillOpen := c.fileStreams[path]
	_, hasPeer := c.peerNetworks[5]
	c.mu.Unlock()
	if stillOpen {
		t.Fatal("file_streams still has an entry opened on behalf of the disconnected id")
	}
	if hasPeer {
		t.Fatal("peer_networks still has the disconnected id")
	}
}

func mustSend(id int32, file, dir string, chunk []byte, first bool) packet.Packet {
	return packet.NewSendDirect(id, file, dir, chunk, first)
}
