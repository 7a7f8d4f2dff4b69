package engine

import (
	"fmt"
	"time"

	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/event"
)

// Telemetry is one accepted state report from a door sensor. Pointer
// fields are absent when the device did not report them.
type Telemetry struct {
	State       device.DoorState
	Temperature *float64
	Voltage     *float64
	Frequency   *float64
}

// UpdateResult is the outcome of evaluating one telemetry report: the
// updated record to persist, the events to raise, and whether the
// alarm relays must be commanded on.
type UpdateResult struct {
	Device       *device.Device
	Events       []event.Event
	TriggerAlarm bool
}

// humanTime renders a timestamp the way it appears in notification
// messages read by people, not machines.
func humanTime(t time.Time) string {
	return t.Format("Mon 2 Jan 2006 15:04:05")
}

// EvaluateUpdate applies one telemetry report to the previous device
// record. It is pure: no I/O, no clock reads, all inputs explicit.
//
// Two rules run here:
//
//   - Alarm trigger: edge-triggered on the closed→open transition of an
//     armed sensor. A repeated "open" report does not re-trigger; the
//     door must close first.
//   - Temperature: graded against the global thresholds, critical taking
//     precedence over warning. No hysteresis: a reading that qualifies
//     raises an event every time it is evaluated.
func EvaluateUpdate(prev *device.Device, in Telemetry, th device.Thresholds, now time.Time) UpdateResult {
	next := prev.Clone()
	next.State = in.State
	if in.Temperature != nil {
		next.Temperature = in.Temperature
	}
	if in.Voltage != nil {
		next.Voltage = in.Voltage
	}
	if in.Frequency != nil {
		next.Frequency = in.Frequency
	}
	next.LastUpdated = now

	res := UpdateResult{Device: next}

	// Fresh open-edge on an armed sensor.
	if prev.Armed && in.State == device.DoorOpen && prev.State != device.DoorOpen {
		res.TriggerAlarm = true
		res.Events = append(res.Events, event.Event{
			Severity: event.SeverityCritical,
			Message: fmt.Sprintf("door opened while armed: %s (%s) at %s on %s",
				prev.Name, prev.Building, prev.IPAddress, humanTime(now)),
			SourceSystem: "sensor:" + prev.ExternalID,
			Timestamp:    now,
		})
	}

	if in.Temperature != nil {
		if ev, ok := evaluateTemperature(prev, *in.Temperature, th, now); ok {
			res.Events = append(res.Events, ev)
		}
	}

	return res
}

// evaluateTemperature grades a reading against the global thresholds.
// Critical takes precedence: a reading above critical never also raises
// a warning for the same evaluation.
func evaluateTemperature(d *device.Device, t float64, th device.Thresholds, now time.Time) (event.Event, bool) {
	var severity event.Severity
	switch {
	case t > th.Critical:
		severity = event.SeverityCritical
	case t > th.Warning:
		severity = event.SeverityWarning
	default:
		return event.Event{}, false
	}

	return event.Event{
		Severity: severity,
		Message: fmt.Sprintf("temperature %.1f°C at %s (%s) exceeds %s threshold",
			t, d.Name, d.Building, severity),
		SourceSystem: "sensor:" + d.ExternalID,
		Timestamp:    now,
	}, true
}

// ArmResult is the outcome of evaluating an arm/disarm command for one
// sensor.
type ArmResult struct {
	Device       *device.Device
	Events       []event.Event
	TriggerAlarm bool
}

// EvaluateArm applies an arm or disarm command to a sensor record.
//
// Arming a sensor whose stored door state is already open triggers the
// alarm immediately rather than waiting for the next telemetry report.
// The trigger fires only on the disarmed→armed transition, so re-arming
// an already armed sensor is idempotent.
func EvaluateArm(prev *device.Device, armed bool, now time.Time) ArmResult {
	next := prev.Clone()
	next.Armed = armed
	next.LastUpdated = now

	res := ArmResult{Device: next}

	if armed && !prev.Armed && prev.State == device.DoorOpen {
		res.TriggerAlarm = true
		res.Events = append(res.Events, event.Event{
			Severity: event.SeverityCritical,
			Message: fmt.Sprintf("armed with door open: %s (%s) at %s on %s",
				prev.Name, prev.Building, prev.IPAddress, humanTime(now)),
			SourceSystem: "sensor:" + prev.ExternalID,
			Timestamp:    now,
		})
	}

	return res
}
