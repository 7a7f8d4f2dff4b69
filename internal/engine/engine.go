package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/event"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/logging"
)

// Publisher is the engine's view of the event bus.
type Publisher interface {
	Publish(ev event.Event)
}

// TelemetryWriter records telemetry history. Writes are fire-and-forget;
// the history store is best-effort and never blocks a state update.
type TelemetryWriter interface {
	WriteTelemetry(deviceID, measurement string, value float64)
}

// DefaultAlarmCooldown suppresses re-triggering for this long after an
// alarm is silenced, absorbing duplicate "open" reports from devices
// that fire several times per physical opening.
const DefaultAlarmCooldown = 30 * time.Second

// Engine applies state reports and commands to the registry and turns
// them into graded events.
//
// Ordering: within one call the registry write always lands before any
// event is published, so a fan-out failure can never roll back or delay
// a state change. Across calls there is no serialization per device;
// the registry's per-key consistency is the only coordination.
type Engine struct {
	repo      device.Repository
	bus       Publisher
	commander AlarmCommander
	telemetry TelemetryWriter
	log       *logging.Logger
	cooldown  time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an engine. telemetry may be nil when no history store is
// configured.
func New(repo device.Repository, bus Publisher, commander AlarmCommander, telemetry TelemetryWriter, log *logging.Logger, cooldown time.Duration) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultAlarmCooldown
	}
	return &Engine{
		repo:      repo,
		bus:       bus,
		commander: commander,
		telemetry: telemetry,
		log:       log.With("component", "engine"),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// UpdateByIP applies one telemetry report arriving from the given
// address. The updated record is persisted before any event is
// published; a publish failure never affects the write.
func (e *Engine) UpdateByIP(ctx context.Context, ip string, in Telemetry) (*device.Device, error) {
	d, err := e.repo.FindByIPAddress(ctx, ip)
	if err != nil {
		return nil, err
	}
	if !d.IsSensor() {
		return nil, fmt.Errorf("device %q: %w", d.ExternalID, ErrNotSensor)
	}

	th, err := e.repo.Thresholds(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading thresholds: %w", err)
	}

	res := EvaluateUpdate(d, in, *th, e.now())

	// Persist first. Everything after this line is best-effort.
	if err := e.repo.Save(ctx, res.Device); err != nil {
		return nil, err
	}

	e.recordTelemetry(res.Device)

	for _, ev := range res.Events {
		e.bus.Publish(ev)
	}
	e.bus.Publish(event.New(event.SeverityInfo, "core:sensors",
		fmt.Sprintf("sensor %s in %s updated: state=%s temperature=%s",
			d.Name, d.Building, in.State, fmtPtr(in.Temperature))))

	if res.TriggerAlarm {
		if _, err := e.TriggerAlarms(ctx); err != nil {
			e.log.Error("alarm trigger failed", "sensor", d.ExternalID, "error", err)
		}
	}

	return res.Device, nil
}

// Handshake binds or refreshes a device's network identity. Replaying a
// handshake with identical IP and MAC is a no-op: nothing is written
// and no event is raised.
func (e *Engine) Handshake(ctx context.Context, externalID, macAddress, reportingIP string) (*device.Device, bool, error) {
	d, err := e.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, false, err
	}

	if d.IPAddress == reportingIP && d.MACAddress == macAddress {
		return d, false, nil
	}

	next := d.Clone()
	next.IPAddress = reportingIP
	next.MACAddress = macAddress
	next.LastUpdated = e.now()

	if err := e.repo.Save(ctx, next); err != nil {
		return nil, false, err
	}

	e.bus.Publish(event.New(event.SeverityInfo, "core:handshake",
		fmt.Sprintf("handshake from %s in %s: ip=%s mac=%s",
			next.Name, next.Building, reportingIP, macAddress)))

	return next, true, nil
}

// SetArmed arms or disarms a single sensor. Arming a sensor whose door
// is already open triggers the alarms immediately.
func (e *Engine) SetArmed(ctx context.Context, externalID string, armed bool) (*device.Device, error) {
	d, err := e.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if !d.IsSensor() {
		return nil, fmt.Errorf("device %q: %w", externalID, ErrNotSensor)
	}

	res := EvaluateArm(d, armed, e.now())
	if err := e.repo.Save(ctx, res.Device); err != nil {
		return nil, err
	}

	for _, ev := range res.Events {
		e.bus.Publish(ev)
	}

	if res.TriggerAlarm {
		if _, err := e.TriggerAlarms(ctx); err != nil {
			e.log.Error("alarm trigger failed", "sensor", externalID, "error", err)
		}
	}

	return res.Device, nil
}

// Delete soft-deletes a device of the expected kind. The record keeps
// its external ID reserved; the IP binding is released. A kind
// mismatch means the caller addressed the wrong collection, and the
// record is left untouched.
func (e *Engine) Delete(ctx context.Context, externalID string, kind device.Kind) error {
	d, err := e.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if d.Kind != kind {
		if kind == device.KindDoorSensor {
			return fmt.Errorf("device %q: %w", externalID, ErrNotSensor)
		}
		return fmt.Errorf("device %q: %w", externalID, ErrNotAlarm)
	}
	return e.repo.SoftDelete(ctx, externalID)
}

// ArmOutcome is the per-sensor result of a building-wide arm/disarm.
type ArmOutcome struct {
	ExternalID string
	Triggered  bool
	Err        error
}

// SetArmedBuilding arms or disarms every sensor in a building with
// all-settled semantics: one sensor's failure never stops the rest.
// When any newly armed sensor's door is already open the alarms are
// commanded once for the whole batch, not once per sensor.
func (e *Engine) SetArmedBuilding(ctx context.Context, building string, armed bool) ([]ArmOutcome, error) {
	sensors, err := e.repo.ListSensorsByBuilding(ctx, building)
	if err != nil {
		return nil, err
	}

	outcomes := make([]ArmOutcome, len(sensors))
	trigger := false
	for i, s := range sensors {
		outcomes[i].ExternalID = s.ExternalID

		res := EvaluateArm(s, armed, e.now())
		if err := e.repo.Save(ctx, res.Device); err != nil {
			outcomes[i].Err = err
			continue
		}
		for _, ev := range res.Events {
			e.bus.Publish(ev)
		}
		outcomes[i].Triggered = res.TriggerAlarm
		trigger = trigger || res.TriggerAlarm
	}

	if trigger {
		if _, err := e.TriggerAlarms(ctx); err != nil {
			e.log.Error("alarm trigger failed", "building", building, "error", err)
		}
	}

	return outcomes, nil
}

// CommandResult is the per-relay outcome of an alarm batch command.
type CommandResult struct {
	ExternalID string
	Skipped    bool
	Err        error
}

// TriggerAlarms commands every registered alarm relay on. Relays inside
// their cooldown window are skipped.
func (e *Engine) TriggerAlarms(ctx context.Context) ([]CommandResult, error) {
	return e.commandAlarms(ctx, true)
}

// SilenceAlarms commands every registered alarm relay off and starts
// each relay's re-trigger cooldown.
func (e *Engine) SilenceAlarms(ctx context.Context) ([]CommandResult, error) {
	return e.commandAlarms(ctx, false)
}

// commandAlarms fans the command out to all relays concurrently with
// all-settled semantics. The returned error covers only the registry
// listing; per-relay failures live in the results.
func (e *Engine) commandAlarms(ctx context.Context, on bool) ([]CommandResult, error) {
	alarms, err := e.repo.ListAlarms(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	results := make([]CommandResult, len(alarms))

	var wg sync.WaitGroup
	for i, alarm := range alarms {
		results[i].ExternalID = alarm.ExternalID

		// A relay that has never completed a handshake has nowhere to
		// receive the command.
		if alarm.IPAddress == "" || alarm.Port == 0 {
			results[i].Skipped = true
			continue
		}
		if on && alarm.InCooldown(now) {
			results[i].Skipped = true
			e.log.Info("alarm in cooldown, skipping",
				"alarm", alarm.ExternalID,
				"until", alarm.CooldownUntil,
			)
			continue
		}

		wg.Add(1)
		go func(i int, alarm *device.Device) {
			defer wg.Done()
			results[i].Err = e.commandOne(ctx, alarm, on)
		}(i, alarm)
	}
	wg.Wait()

	return results, nil
}

// commandOne switches one relay and writes its reported reading back to
// the registry.
func (e *Engine) commandOne(ctx context.Context, alarm *device.Device, on bool) error {
	reading, err := e.commander.Command(ctx, alarm, on)
	if err != nil {
		action := "off"
		if on {
			action = "on"
		}
		e.bus.Publish(event.New(event.SeverityWarning, "core:alarms",
			fmt.Sprintf("failed to switch alarm %s in %s %s: %v",
				alarm.Name, alarm.Building, action, err)))
		return err
	}

	next := alarm.Clone()
	next.Playing = reading.State == device.RelayOn
	if reading.Temperature != nil {
		next.Temperature = reading.Temperature
	}
	if reading.Voltage != nil {
		next.Voltage = reading.Voltage
	}
	if reading.Frequency != nil {
		next.Frequency = reading.Frequency
	}
	next.LastUpdated = e.now()

	if on {
		next.CooldownUntil = nil
	} else {
		until := e.now().Add(e.cooldown)
		next.CooldownUntil = &until
	}

	if err := e.repo.Save(ctx, next); err != nil {
		return err
	}
	e.recordTelemetry(next)
	return nil
}

// recordTelemetry pushes the record's current readings into the history
// store. No-op when no store is configured.
func (e *Engine) recordTelemetry(d *device.Device) {
	if e.telemetry == nil {
		return
	}
	if d.Temperature != nil {
		e.telemetry.WriteTelemetry(d.ExternalID, "temperature_c", *d.Temperature)
	}
	if d.Voltage != nil {
		e.telemetry.WriteTelemetry(d.ExternalID, "voltage_v", *d.Voltage)
	}
	if d.Frequency != nil {
		e.telemetry.WriteTelemetry(d.ExternalID, "frequency_hz", *d.Frequency)
	}
}

func fmtPtr(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *p)
}
