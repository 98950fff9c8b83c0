package eventpipe

import (
	"testing"
	"time"
)

func TestSignalWakesWaiter(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Signal()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Signal")
	}
}

func TestConcurrentSignalsCoalesce(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	for i := 0; i < 10; i++ {
		p.Signal()
	}
	p.Drain()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned without a fresh Signal")
	case <-time.After(100 * time.Millisecond):
	}

	p.Signal()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after fresh Signal")
	}
}
