package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/jmcallister/perimeter-core/internal/engine"
	"github.com/jmcallister/perimeter-core/internal/event"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/mqtt"
)

// fakeBroker records publishes and captures subscription handlers.
type fakeBroker struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]mqtt.MessageHandler
	pubErr    error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		published: make(map[string][][]byte),
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append(f.published[topic], payload)
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) messages(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[topic]
}

// fakeSwitcher records alarm commands.
type fakeSwitcher struct {
	mu       sync.Mutex
	triggers int
	silences int
}

func (f *fakeSwitcher) TriggerAlarms(_ context.Context) ([]engine.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	return nil, nil
}

func (f *fakeSwitcher) SilenceAlarms(_ context.Context) ([]engine.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silences++
	return nil, nil
}

func TestConsumeForwardsNotifiableEvents(t *testing.T) {
	broker := newFakeBroker()
	bridge := NewBridge(broker, logging.Discard(), 1)

	critical := event.New(event.SeverityCritical, "sensor:S1", "door opened while armed")
	if err := bridge.Consume(context.Background(), critical); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	msgs := broker.messages("perimeter/event/critical")
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	var got event.Event
	if err := json.Unmarshal(msgs[0], &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Message != critical.Message || got.Severity != event.SeverityCritical {
		t.Errorf("payload mismatch: %+v", got)
	}
}

func TestConsumeSkipsInfoEvents(t *testing.T) {
	broker := newFakeBroker()
	bridge := NewBridge(broker, logging.Discard(), 1)

	if err := bridge.Consume(context.Background(), event.New(event.SeverityInfo, "core:sensors", "updated")); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	if len(broker.messages("perimeter/event/info")) != 0 {
		t.Error("info events must not be forwarded")
	}
}

func TestConsumeReportsPublishFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.pubErr = errors.New("broker down")
	bridge := NewBridge(broker, logging.Discard(), 1)

	err := bridge.Consume(context.Background(), event.New(event.SeverityWarning, "core:alarms", "unreachable"))
	if err == nil {
		t.Error("publish failure should surface to the bus for logging")
	}
}

func TestListenForCommands(t *testing.T) {
	broker := newFakeBroker()
	bridge := NewBridge(broker, logging.Discard(), 1)
	alarms := &fakeSwitcher{}

	if err := bridge.ListenForCommands(context.Background(), alarms); err != nil {
		t.Fatalf("ListenForCommands failed: %v", err)
	}

	handler := broker.handlers["perimeter/command/alarms"]
	if handler == nil {
		t.Fatal("no handler registered on the command topic")
	}

	if err := handler("perimeter/command/alarms", []byte("on")); err != nil {
		t.Fatalf("on command failed: %v", err)
	}
	if err := handler("perimeter/command/alarms", []byte("off")); err != nil {
		t.Fatalf("off command failed: %v", err)
	}
	if err := handler("perimeter/command/alarms", []byte("reboot")); err != nil {
		t.Fatalf("unknown command should be ignored, got: %v", err)
	}

	if alarms.triggers != 1 || alarms.silences != 1 {
		t.Errorf("triggers=%d silences=%d, want 1 and 1", alarms.triggers, alarms.silences)
	}
}
