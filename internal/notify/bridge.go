// Package notify forwards warning and critical events to the external
// notification gateways over MQTT. The gateways (SMS, email, push) are
// plain broker subscribers; the core neither knows how many exist nor
// waits for them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmcallister/perimeter-core/internal/engine"
	"github.com/jmcallister/perimeter-core/internal/event"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/mqtt"
)

// AlarmSwitcher is the slice of the engine the command topic needs.
type AlarmSwitcher interface {
	TriggerAlarms(ctx context.Context) ([]engine.CommandResult, error)
	SilenceAlarms(ctx context.Context) ([]engine.CommandResult, error)
}

// Broker is the slice of the MQTT client the bridge uses. Satisfied by
// *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Bridge consumes events from the bus and publishes the notifiable
// ones to perimeter/event/{severity}. Informational events stay in the
// audit log only.
type Bridge struct {
	client Broker
	log    *logging.Logger
	qos    byte
}

// NewBridge creates a bridge on a connected MQTT client.
func NewBridge(client Broker, log *logging.Logger, qos byte) *Bridge {
	return &Bridge{
		client: client,
		log:    log.With("component", "notify"),
		qos:    qos,
	}
}

// Name implements event.Consumer.
func (b *Bridge) Name() string { return "mqtt_bridge" }

// Consume implements event.Consumer. Only warning and critical events
// go out; delivery failure is the bus's to log and never retried here,
// since the durable record already exists in the audit log.
func (b *Bridge) Consume(_ context.Context, ev event.Event) error {
	if !ev.Severity.Notifiable() {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	topic := mqtt.Topics{}.Event(string(ev.Severity))
	if err := b.client.Publish(topic, payload, b.qos, false); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// ListenForCommands subscribes to the alarm command topic so external
// tooling (a gateway acting on an operator's reply, for instance) can
// switch the relays. Payload is the literal string "on" or "off";
// anything else is ignored with a warning.
func (b *Bridge) ListenForCommands(ctx context.Context, alarms AlarmSwitcher) error {
	topic := mqtt.Topics{}.CommandAlarms()
	return b.client.Subscribe(topic, b.qos, func(_ string, payload []byte) error {
		switch string(payload) {
		case "on":
			_, err := alarms.TriggerAlarms(ctx)
			return err
		case "off":
			_, err := alarms.SilenceAlarms(ctx)
			return err
		default:
			b.log.Warn("unknown alarm command", "payload", string(payload))
			return nil
		}
	})
}
