package discovery

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
)

// rebindDelay is the pause before re-binding after a socket error,
// keeping a tight failure loop from spinning the CPU.
const rebindDelay = time.Second

// SessionRunner runs one handshake against a probing device. The
// listener dispatches each valid probe onto its own goroutine and never
// waits for the session to finish.
type SessionRunner interface {
	Run(ctx context.Context, deviceIP string)
}

// Listener owns the UDP discovery socket.
//
// It accepts broadcast probes, filters them byte-for-byte against the
// configured service name, and dispatches a handshake session back to
// each matching prober. Mismatched payloads are expected noise from
// other protocols on the network and are dropped without comment.
//
// A socket error never terminates the process: the listener logs,
// closes, and rebinds on the same port. Only Stop (or context
// cancellation) ends the listening loop.
type Listener struct {
	port        int
	serviceName string
	sessions    SessionRunner
	log         *logging.Logger

	conn    atomic.Pointer[net.UDPConn]
	stopped atomic.Bool
	done    chan struct{}
}

// NewListener creates a discovery listener. Start must be called to
// begin accepting probes.
func NewListener(port int, serviceName string, sessions SessionRunner, log *logging.Logger) *Listener {
	return &Listener{
		port:        port,
		serviceName: serviceName,
		sessions:    sessions,
		log:         log.With("component", "discovery"),
		done:        make(chan struct{}),
	}
}

// Start binds the UDP socket and launches the listening loop. It
// returns once the initial bind succeeds; subsequent socket errors are
// handled by the loop itself.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := l.bind()
	if err != nil {
		return err
	}
	l.conn.Store(conn)
	l.log.Info("discovery listener running", "port", l.port)

	go l.listen(ctx)
	return nil
}

func (l *Listener) bind() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: l.port})
	if err != nil {
		return nil, fmt.Errorf("binding udp port %d: %w", l.port, err)
	}
	return conn, nil
}

// Stop closes the socket and waits for the listening loop to exit.
func (l *Listener) Stop() {
	if l.stopped.Swap(true) {
		return
	}
	if conn := l.conn.Load(); conn != nil {
		conn.Close() //nolint:errcheck // Read loop observes the close
	}
	<-l.done
}

// Addr returns the bound local address, for tests and logging.
func (l *Listener) Addr() net.Addr {
	if conn := l.conn.Load(); conn != nil {
		return conn.LocalAddr()
	}
	return nil
}

func (l *Listener) listen(ctx context.Context) {
	defer close(l.done)

	buf := make([]byte, 1024)
	for {
		conn := l.conn.Load()
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if l.stopped.Load() || ctx.Err() != nil {
				return
			}
			// Close and rebind on the same port; the listener must
			// stay up across transient socket faults.
			l.log.Error("udp socket error, rebinding", "error", err)
			conn.Close() //nolint:errcheck // Already failed
			if !l.rebind(ctx) {
				return
			}
			continue
		}

		payload := string(buf[:n])
		if payload != l.serviceName {
			// Expected noise from other probes on the network.
			continue
		}

		l.log.Info("discovery probe received", "address", addr.IP.String())
		go l.sessions.Run(ctx, addr.IP.String())
	}
}

// rebind retries the bind until it succeeds or the listener stops.
func (l *Listener) rebind(ctx context.Context) bool {
	for {
		conn, err := l.bind()
		if err == nil {
			l.conn.Store(conn)
			// Stop may have closed the old socket while the bind was in
			// flight; it would never see this one.
			if l.stopped.Load() {
				conn.Close() //nolint:errcheck // Stopping anyway
				return false
			}
			l.log.Info("discovery listener rebound", "port", l.port)
			return true
		}
		l.log.Error("rebind failed, retrying", "port", l.port, "error", err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(rebindDelay):
		}
		if l.stopped.Load() {
			return false
		}
	}
}
