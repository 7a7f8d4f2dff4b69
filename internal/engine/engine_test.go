package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/event"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
)

// ─── Test Doubles ───────────────────────────────────────────────────────────

// mockRepository is an in-memory Repository.
type mockRepository struct {
	mu         sync.Mutex
	devices    map[string]*device.Device
	thresholds device.Thresholds
	saveErr    map[string]error
	saveCount  int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		devices:    make(map[string]*device.Device),
		thresholds: device.Thresholds{Warning: 50, Critical: 70},
		saveErr:    make(map[string]error),
	}
}

func (m *mockRepository) put(d *device.Device) { m.devices[d.ExternalID] = d.Clone() }

func (m *mockRepository) get(id string) *device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[id].Clone()
}

func (m *mockRepository) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

func (m *mockRepository) FindByExternalID(_ context.Context, id string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || d.Deleted {
		return nil, device.ErrNotFound
	}
	return d.Clone(), nil
}

func (m *mockRepository) FindByIPAddress(_ context.Context, ip string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.IPAddress == ip && !d.Deleted {
			return d.Clone(), nil
		}
	}
	return nil, device.ErrNotFound
}

func (m *mockRepository) Save(_ context.Context, d *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErr[d.ExternalID]; err != nil {
		return err
	}
	m.devices[d.ExternalID] = d.Clone()
	m.saveCount++
	return nil
}

func (m *mockRepository) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return device.ErrNotFound
	}
	d.Deleted = true
	return nil
}

func (m *mockRepository) listKind(k device.Kind) []*device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*device.Device
	for _, d := range m.devices {
		if d.Kind == k && !d.Deleted {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (m *mockRepository) ListSensors(_ context.Context) ([]*device.Device, error) {
	return m.listKind(device.KindDoorSensor), nil
}

func (m *mockRepository) ListAlarms(_ context.Context) ([]*device.Device, error) {
	return m.listKind(device.KindAlarmRelay), nil
}

func (m *mockRepository) ListSensorsByBuilding(_ context.Context, building string) ([]*device.Device, error) {
	var out []*device.Device
	for _, d := range m.listKind(device.KindDoorSensor) {
		if d.Building == building {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepository) Thresholds(_ context.Context) (*device.Thresholds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.thresholds
	return &t, nil
}

func (m *mockRepository) SaveThresholds(_ context.Context, t *device.Thresholds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = *t
	return nil
}

func (m *mockRepository) EnsureThresholds(_ context.Context, _ device.Thresholds) error {
	return nil
}

// mockPublisher records published events.
type mockPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *mockPublisher) Publish(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *mockPublisher) bySeverity(s event.Severity) []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Event
	for _, ev := range p.events {
		if ev.Severity == s {
			out = append(out, ev)
		}
	}
	return out
}

// mockCommander records commands and fails on demand.
type mockCommander struct {
	mu      sync.Mutex
	calls   []string // "externalID:on" / "externalID:off"
	failFor map[string]error
	reading AlarmReading
}

func newMockCommander() *mockCommander {
	return &mockCommander{
		failFor: make(map[string]error),
		reading: AlarmReading{State: device.RelayOn},
	}
}

func (c *mockCommander) Command(_ context.Context, alarm *device.Device, on bool) (*AlarmReading, error) {
	action := "off"
	if on {
		action = "on"
	}
	c.mu.Lock()
	c.calls = append(c.calls, fmt.Sprintf("%s:%s", alarm.ExternalID, action))
	c.mu.Unlock()

	if err := c.failFor[alarm.ExternalID]; err != nil {
		return nil, err
	}
	reading := c.reading
	if !on {
		reading.State = device.RelayOff
	}
	return &reading, nil
}

func (c *mockCommander) commandCount(match string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call == match {
			n++
		}
	}
	return n
}

type fixture struct {
	engine    *Engine
	repo      *mockRepository
	bus       *mockPublisher
	commander *mockCommander
}

func newFixture() *fixture {
	repo := newMockRepository()
	bus := &mockPublisher{}
	commander := newMockCommander()
	eng := New(repo, bus, commander, nil, logging.Discard(), 30*time.Second)
	return &fixture{engine: eng, repo: repo, bus: bus, commander: commander}
}

// ─── UpdateByIP ─────────────────────────────────────────────────────────────

func TestUpdateByIPOpenEdgeScenario(t *testing.T) {
	// Sensor S1 in building B, armed, closed. Update {open, 22}.
	f := newFixture()
	f.repo.put(armedSensor(device.DoorClosed))
	f.repo.put(&device.Device{
		ExternalID: "A1", Kind: device.KindAlarmRelay, Name: "siren",
		Building: "B", IPAddress: "10.0.0.50", Port: 80,
	})

	updated, err := f.engine.UpdateByIP(context.Background(), "10.0.0.10", Telemetry{
		State:       device.DoorOpen,
		Temperature: ptr(22),
	})
	if err != nil {
		t.Fatalf("UpdateByIP failed: %v", err)
	}

	if got := f.commander.commandCount("A1:on"); got != 1 {
		t.Errorf("alarm commanded on %d times, want 1", got)
	}
	criticals := f.bus.bySeverity(event.SeverityCritical)
	if len(criticals) != 1 {
		t.Fatalf("critical events = %d, want 1", len(criticals))
	}
	if !strings.Contains(criticals[0].Message, "S1") || !strings.Contains(criticals[0].Message, "B") {
		t.Errorf("critical event should name sensor and building: %q", criticals[0].Message)
	}

	if updated.State != device.DoorOpen || *updated.Temperature != 22 {
		t.Errorf("updated record = state %s temp %v", updated.State, updated.Temperature)
	}
	stored := f.repo.get("S1")
	if stored.State != device.DoorOpen || *stored.Temperature != 22 {
		t.Errorf("stored record = state %s temp %v", stored.State, stored.Temperature)
	}
}

func TestUpdateByIPHotReadingCriticalOnly(t *testing.T) {
	// Thresholds {50, 70}; reading 75 → exactly one critical, no warning.
	f := newFixture()
	s := armedSensor(device.DoorClosed)
	s.Armed = false
	f.repo.put(s)

	if _, err := f.engine.UpdateByIP(context.Background(), "10.0.0.10", Telemetry{
		State:       device.DoorClosed,
		Temperature: ptr(75),
	}); err != nil {
		t.Fatalf("UpdateByIP failed: %v", err)
	}

	if got := len(f.bus.bySeverity(event.SeverityCritical)); got != 1 {
		t.Errorf("critical events = %d, want 1", got)
	}
	if got := len(f.bus.bySeverity(event.SeverityWarning)); got != 0 {
		t.Errorf("warning events = %d, want 0", got)
	}
}

func TestUpdateByIPUnknownAddress(t *testing.T) {
	f := newFixture()

	_, err := f.engine.UpdateByIP(context.Background(), "10.0.0.99", Telemetry{State: device.DoorOpen})
	if !errors.Is(err, device.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if f.repo.saves() != 0 {
		t.Error("nothing should be written for an unknown address")
	}
}

func TestUpdateByIPPersistsDespiteAlarmFailure(t *testing.T) {
	// The registry write must land even when every downstream action fails.
	f := newFixture()
	f.repo.put(armedSensor(device.DoorClosed))
	f.repo.put(&device.Device{
		ExternalID: "A1", Kind: device.KindAlarmRelay,
		IPAddress: "10.0.0.50", Port: 80,
	})
	f.commander.failFor["A1"] = errors.New("relay unreachable")

	if _, err := f.engine.UpdateByIP(context.Background(), "10.0.0.10", Telemetry{State: device.DoorOpen}); err != nil {
		t.Fatalf("UpdateByIP failed: %v", err)
	}

	if got := f.repo.get("S1").State; got != device.DoorOpen {
		t.Errorf("stored state = %s, want open despite alarm failure", got)
	}
	if got := len(f.bus.bySeverity(event.SeverityWarning)); got != 1 {
		t.Errorf("warning events = %d, want 1 for the unreachable relay", got)
	}
}

func TestUpdateByIPRejectsAlarmRelay(t *testing.T) {
	f := newFixture()
	f.repo.put(&device.Device{
		ExternalID: "A1", Kind: device.KindAlarmRelay, IPAddress: "10.0.0.50",
	})

	_, err := f.engine.UpdateByIP(context.Background(), "10.0.0.50", Telemetry{State: device.DoorOpen})
	if !errors.Is(err, ErrNotSensor) {
		t.Errorf("expected ErrNotSensor, got %v", err)
	}
}

// ─── Handshake ──────────────────────────────────────────────────────────────

func TestHandshakeBindsAndIsIdempotent(t *testing.T) {
	f := newFixture()
	s := armedSensor(device.DoorClosed)
	s.IPAddress = ""
	s.MACAddress = ""
	f.repo.put(s)

	_, changed, err := f.engine.Handshake(context.Background(), "S1", "aa:bb:cc:dd:ee:ff", "10.0.0.10")
	if err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if !changed {
		t.Error("first handshake should bind")
	}
	stored := f.repo.get("S1")
	if stored.IPAddress != "10.0.0.10" || stored.MACAddress != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("binding not stored: %+v", stored)
	}
	savesAfterFirst := f.repo.saves()
	eventsAfterFirst := len(f.bus.bySeverity(event.SeverityInfo))
	if eventsAfterFirst != 1 {
		t.Errorf("info events after first handshake = %d, want 1", eventsAfterFirst)
	}

	// Identical replay: no write, no event.
	_, changed, err = f.engine.Handshake(context.Background(), "S1", "aa:bb:cc:dd:ee:ff", "10.0.0.10")
	if err != nil {
		t.Fatalf("replayed Handshake failed: %v", err)
	}
	if changed {
		t.Error("identical replay should be a no-op")
	}
	if f.repo.saves() != savesAfterFirst {
		t.Error("identical replay wrote to the registry")
	}
	if got := len(f.bus.bySeverity(event.SeverityInfo)); got != eventsAfterFirst {
		t.Errorf("identical replay raised events: %d", got)
	}

	// Changed address: rebinding.
	_, changed, err = f.engine.Handshake(context.Background(), "S1", "aa:bb:cc:dd:ee:ff", "10.0.0.20")
	if err != nil {
		t.Fatalf("rebind Handshake failed: %v", err)
	}
	if !changed || f.repo.get("S1").IPAddress != "10.0.0.20" {
		t.Error("changed IP should rebind")
	}
}

func TestHandshakeUnknownDevice(t *testing.T) {
	f := newFixture()

	_, _, err := f.engine.Handshake(context.Background(), "ghost", "aa:bb", "10.0.0.9")
	if !errors.Is(err, device.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if f.repo.saves() != 0 {
		t.Error("unknown handshake must not write to the registry")
	}
}

// ─── Arm / Disarm ───────────────────────────────────────────────────────────

func TestSetArmedOpenDoorTriggersImmediately(t *testing.T) {
	f := newFixture()
	s := armedSensor(device.DoorOpen)
	s.Armed = false
	f.repo.put(s)
	f.repo.put(&device.Device{
		ExternalID: "A1", Kind: device.KindAlarmRelay,
		IPAddress: "10.0.0.50", Port: 80,
	})

	if _, err := f.engine.SetArmed(context.Background(), "S1", true); err != nil {
		t.Fatalf("SetArmed failed: %v", err)
	}

	if got := f.commander.commandCount("A1:on"); got != 1 {
		t.Errorf("alarm commanded %d times, want 1: arming an open door triggers now, not on next report", got)
	}
	if !f.repo.get("S1").Armed {
		t.Error("armed flag not persisted")
	}
}

func TestSetArmedBuildingAllSettled(t *testing.T) {
	f := newFixture()
	good := armedSensor(device.DoorClosed)
	good.Armed = false
	f.repo.put(good)

	bad := armedSensor(device.DoorClosed)
	bad.ExternalID = "S2"
	bad.Name = "S2"
	bad.IPAddress = "10.0.0.11"
	bad.Armed = false
	f.repo.put(bad)
	f.repo.saveErr["S2"] = errors.New("store hiccup")

	outcomes, err := f.engine.SetArmedBuilding(context.Background(), "B", true)
	if err != nil {
		t.Fatalf("SetArmedBuilding failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}

	var failed, succeeded int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("failed=%d succeeded=%d, want one of each", failed, succeeded)
	}
	if !f.repo.get("S1").Armed {
		t.Error("S2's failure must not stop S1 from being armed")
	}
}

func TestSetArmedBuildingTriggersAlarmsOnce(t *testing.T) {
	// Two open-door sensors armed in one batch: relays commanded once.
	f := newFixture()
	for _, id := range []string{"S1", "S2"} {
		s := armedSensor(device.DoorOpen)
		s.ExternalID = id
		s.Name = id
		s.IPAddress = "10.0.0.1" + id[1:]
		s.Armed = false
		f.repo.put(s)
	}
	f.repo.put(&device.Device{
		ExternalID: "A1", Kind: device.KindAlarmRelay,
		IPAddress: "10.0.0.50", Port: 80,
	})

	if _, err := f.engine.SetArmedBuilding(context.Background(), "B", true); err != nil {
		t.Fatalf("SetArmedBuilding failed: %v", err)
	}

	if got := f.commander.commandCount("A1:on"); got != 1 {
		t.Errorf("alarm commanded %d times for the batch, want 1", got)
	}
}

// ─── Alarm Commands ─────────────────────────────────────────────────────────

func TestTriggerAlarmsAllSettled(t *testing.T) {
	f := newFixture()
	f.repo.put(&device.Device{
		ExternalID: "A1", Kind: device.KindAlarmRelay,
		IPAddress: "10.0.0.50", Port: 80,
	})
	f.repo.put(&device.Device{
		ExternalID: "A2", Kind: device.KindAlarmRelay,
		IPAddress: "10.0.0.51", Port: 80,
	})
	f.commander.failFor["A1"] = errors.New("connection refused")

	results, err := f.engine.TriggerAlarms(context.Background())
	if err != nil {
		t.Fatalf("TriggerAlarms failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	// Both attempted; A1 failed, A2 switched and saved.
	if f.commander.commandCount("A1:on") != 1 || f.commander.commandCount("A2:on") != 1 {
		t.Error("every relay must be attempted")
	}
	if !f.repo.get("A2").Playing {
		t.Error("A2 should be playing after a successful command")
	}
	if f.repo.get("A1").Playing {
		t.Error("A1 must not be marked playing after a failed command")
	}
}

func TestTriggerAlarmsSkipsUnboundAndCooldown(t *testing.T) {
	f := newFixture()
	f.repo.put(&device.Device{
		ExternalID: "unbound", Kind: device.KindAlarmRelay,
	})
	until := time.Now().Add(time.Minute)
	f.repo.put(&device.Device{
		ExternalID: "cooling", Kind: device.KindAlarmRelay,
		IPAddress: "10.0.0.52", Port: 80, CooldownUntil: &until,
	})

	results, err := f.engine.TriggerAlarms(context.Background())
	if err != nil {
		t.Fatalf("TriggerAlarms failed: %v", err)
	}
	for _, r := range results {
		if !r.Skipped {
			t.Errorf("relay %s should be skipped", r.ExternalID)
		}
	}
	if len(f.commander.calls) != 0 {
		t.Errorf("no commands expected, got %v", f.commander.calls)
	}
}

func TestSilenceAlarmsSetsCooldown(t *testing.T) {
	f := newFixture()
	f.repo.put(&device.Device{
		ExternalID: "A1", Kind: device.KindAlarmRelay,
		IPAddress: "10.0.0.50", Port: 80, Playing: true,
	})

	if _, err := f.engine.SilenceAlarms(context.Background()); err != nil {
		t.Fatalf("SilenceAlarms failed: %v", err)
	}

	stored := f.repo.get("A1")
	if stored.Playing {
		t.Error("relay should be off")
	}
	if stored.CooldownUntil == nil || !stored.CooldownUntil.After(time.Now()) {
		t.Error("cooldown should be armed after silencing")
	}

	// While cooling down, a trigger skips the relay.
	results, err := f.engine.TriggerAlarms(context.Background())
	if err != nil {
		t.Fatalf("TriggerAlarms failed: %v", err)
	}
	if !results[0].Skipped {
		t.Error("relay in cooldown must be skipped")
	}
}
