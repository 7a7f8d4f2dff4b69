package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/event"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
)

// DefaultSessionTimeout bounds one handshake exchange. A device that
// connects but stays silent is cut off after this long.
const DefaultSessionTimeout = 10 * time.Second

// maxIdentifierLen caps the identifier message read from the device.
const maxIdentifierLen = 512

// Publisher is the handshaker's view of the event bus.
type Publisher interface {
	Publish(ev event.Event)
}

// DeviceLookup is the slice of the registry a handshake needs. A
// session only authenticates and never writes; network identity is
// bound later through the HTTP handshake endpoint.
type DeviceLookup interface {
	FindByExternalID(ctx context.Context, externalID string) (*device.Device, error)
}

// Handshaker runs single-shot TCP handshake sessions against probing
// devices.
//
// The connection direction is server→device: the server dials out to
// the prober's fixed client port, because field devices behind NAT
// cannot reliably accept inbound connections. The device sends one
// message containing its external ID; a recognised device receives the
// shared password, an unrecognised one receives nothing and the probe
// is escalated as a critical event. An unknown device announcing
// itself on the private network is the protocol's primary
// intrusion-detection signal.
//
// Sessions are never pooled or retried; a device that fails is
// expected to re-probe over UDP.
type Handshaker struct {
	registry   DeviceLookup
	bus        Publisher
	log        *logging.Logger
	password   string
	clientPort int
	timeout    time.Duration

	// dial is replaceable in tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewHandshaker creates a handshaker dialing out to clientPort.
func NewHandshaker(registry DeviceLookup, bus Publisher, log *logging.Logger, password string, clientPort int, timeout time.Duration) *Handshaker {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	h := &Handshaker{
		registry:   registry,
		bus:        bus,
		log:        log.With("component", "handshake"),
		password:   password,
		clientPort: clientPort,
		timeout:    timeout,
	}
	h.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: h.timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	return h
}

// Run implements SessionRunner: one complete handshake session against
// the device at deviceIP. All failure modes end with the connection
// destroyed; the device never receives diagnostic detail.
func (h *Handshaker) Run(ctx context.Context, deviceIP string) {
	addr := net.JoinHostPort(deviceIP, fmt.Sprint(h.clientPort))

	conn, err := h.dial(ctx, addr)
	if err != nil {
		// The prober may already be gone; routine on flaky networks.
		h.log.Warn("handshake dial failed", "address", addr, "error", err)
		return
	}
	defer conn.Close() //nolint:errcheck // Single-shot session

	// One deadline covers the whole exchange.
	if err := conn.SetDeadline(time.Now().Add(h.timeout)); err != nil {
		h.log.Error("setting handshake deadline", "address", addr, "error", err)
		return
	}

	buf := make([]byte, maxIdentifierLen)
	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// Silent timeouts are routine: a device that probed and
			// wandered off is not a fault.
			h.log.Debug("handshake timed out", "address", addr)
			return
		}
		h.log.Warn("handshake read failed", "address", addr, "error", err)
		return
	}

	claimedID := strings.TrimSpace(string(buf[:n]))

	d, err := h.registry.FindByExternalID(ctx, claimedID)
	switch {
	case errors.Is(err, device.ErrNotFound):
		// Unknown prober: no reply, full escalation.
		h.bus.Publish(event.New(event.SeverityCritical, "core:handshake",
			fmt.Sprintf("unrecognised device at %s attempted to connect via port %d, it sent the message %q",
				deviceIP, h.clientPort, claimedID)))
		return
	case err != nil:
		// Registry unreachable: authentication is not confirmed, so no
		// password goes out. The device will re-probe.
		h.log.Error("registry lookup failed during handshake", "address", addr, "error", err)
		return
	}

	if _, err := conn.Write([]byte(h.password)); err != nil {
		h.log.Warn("handshake password write failed", "address", addr, "error", err)
		return
	}

	h.log.Info("handshake authenticated",
		"device", d.ExternalID,
		"name", d.Name,
		"address", deviceIP,
	)
}
