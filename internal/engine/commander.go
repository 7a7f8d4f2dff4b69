package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jmcallister/perimeter-core/internal/device"
)

// AlarmReading is what an alarm relay reports back after a command:
// the state it settled in plus its own telemetry.
type AlarmReading struct {
	State       device.RelayState `json:"state"`
	Temperature *float64          `json:"temperature"`
	Voltage     *float64          `json:"voltage"`
	Frequency   *float64          `json:"frequency"`
}

// AlarmCommander drives an alarm relay's network endpoint.
type AlarmCommander interface {
	// Command switches the relay on or off and returns its reading.
	Command(ctx context.Context, alarm *device.Device, on bool) (*AlarmReading, error)
}

// defaultCommandTimeout bounds one relay command round trip.
const defaultCommandTimeout = 5 * time.Second

// HTTPAlarmCommander commands relays over their embedded HTTP
// interface: POST http://{ip}:{port}/on or /off, response is a JSON
// reading.
type HTTPAlarmCommander struct {
	client *http.Client
}

// NewHTTPAlarmCommander creates a commander with a bounded per-call
// timeout.
func NewHTTPAlarmCommander(timeout time.Duration) *HTTPAlarmCommander {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &HTTPAlarmCommander{
		client: &http.Client{Timeout: timeout},
	}
}

// Command implements AlarmCommander.
func (c *HTTPAlarmCommander) Command(ctx context.Context, alarm *device.Device, on bool) (*AlarmReading, error) {
	action := "off"
	if on {
		action = "on"
	}
	url := fmt.Sprintf("http://%s:%d/%s", alarm.IPAddress, alarm.Port, action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building alarm command: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("commanding alarm %s: %w", alarm.ExternalID, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alarm %s returned status %d", alarm.ExternalID, resp.StatusCode)
	}

	var reading AlarmReading
	if err := json.NewDecoder(resp.Body).Decode(&reading); err != nil {
		return nil, fmt.Errorf("decoding alarm %s response: %w", alarm.ExternalID, err)
	}
	return &reading, nil
}
