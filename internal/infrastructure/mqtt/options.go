package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jmcallister/perimeter-core/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout bounds the initial connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds waiting for a publish ack.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the drain window on disconnect, in
	// milliseconds.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive is the connection keepalive interval.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the highest MQTT QoS level.
	maxQoS = 2
)

// buildClientOptions maps the mqtt config section onto paho options:
// broker URL (ssl:// when TLS is on), client identity, optional
// credentials, clean session, and auto-reconnect with backoff. The
// LWT is armed here so a crash flips the retained status topic to
// offline without our involvement.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetWill(Topics{}.SystemStatus(),
		statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect"), 1, true)

	return opts
}

// statusPayload builds the system status JSON. Reason is only present
// on offline statuses, so consumers can tell a crash (LWT, set in
// buildClientOptions) from a deliberate shutdown.
func statusPayload(clientID, status, reason string) string {
	msg := struct {
		Status    string `json:"status"`
		ClientID  string `json:"client_id"`
		Reason    string `json:"reason,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	b, _ := json.Marshal(msg) //nolint:errcheck // Fixed shape cannot fail
	return string(b)
}
