package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
)

// fakeSessions records dispatched handshake sessions.
type fakeSessions struct {
	mu    sync.Mutex
	ips   []string
	added chan struct{}
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{added: make(chan struct{}, 16)}
}

func (f *fakeSessions) Run(_ context.Context, deviceIP string) {
	f.mu.Lock()
	f.ips = append(f.ips, deviceIP)
	f.mu.Unlock()
	f.added <- struct{}{}
}

func (f *fakeSessions) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ips...)
}

func startTestListener(t *testing.T, serviceName string, sessions SessionRunner) *Listener {
	t.Helper()

	// Port 0 lets the kernel pick a free port; Addr reports it.
	l := NewListener(0, serviceName, sessions, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(l.Stop)
	return l
}

func sendProbe(t *testing.T, addr net.Addr, payload string) {
	t.Helper()

	conn, err := net.Dial("udp4", addr.String())
	if err != nil {
		t.Fatalf("dialing listener: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("sending probe: %v", err)
	}
}

func TestListenerDispatchesMatchingProbe(t *testing.T) {
	sessions := newFakeSessions()
	l := startTestListener(t, "perimeter", sessions)

	sendProbe(t, l.Addr(), "perimeter")

	select {
	case <-sessions.added:
	case <-time.After(2 * time.Second):
		t.Fatal("probe was not dispatched")
	}
	ips := sessions.dispatched()
	if len(ips) != 1 || ips[0] != "127.0.0.1" {
		t.Errorf("dispatched = %v, want [127.0.0.1]", ips)
	}
}

func TestListenerIgnoresMismatchedPayload(t *testing.T) {
	sessions := newFakeSessions()
	l := startTestListener(t, "perimeter", sessions)

	// Noise first, then a real probe. Receipt of the real probe proves
	// the noise was processed (and dropped) before it.
	sendProbe(t, l.Addr(), "ssdp:discover")
	sendProbe(t, l.Addr(), "PERIMETER") // case matters: byte-for-byte compare
	sendProbe(t, l.Addr(), "perimeter")

	select {
	case <-sessions.added:
	case <-time.After(2 * time.Second):
		t.Fatal("matching probe was not dispatched")
	}
	if ips := sessions.dispatched(); len(ips) != 1 {
		t.Errorf("dispatched = %v, want exactly the matching probe", ips)
	}
}

func TestListenerRebindsAfterSocketError(t *testing.T) {
	sessions := newFakeSessions()
	l := startTestListener(t, "perimeter", sessions)

	// Kill the socket out from under the read loop. The listener must
	// treat the read error as transient and bind a fresh socket rather
	// than exit.
	old := l.conn.Load()
	old.Close() //nolint:errcheck // Simulated socket fault

	deadline := time.Now().Add(2 * time.Second)
	for l.conn.Load() == old {
		if time.Now().After(deadline) {
			t.Fatal("listener did not rebind")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sendProbe(t, l.Addr(), "perimeter")

	select {
	case <-sessions.added:
	case <-time.After(2 * time.Second):
		t.Fatal("probe after rebind was not dispatched")
	}
}

func TestListenerStop(t *testing.T) {
	sessions := newFakeSessions()
	l := startTestListener(t, "perimeter", sessions)

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stop is idempotent.
	l.Stop()
}
