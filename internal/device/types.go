package device

import "time"

// Kind discriminates the two field-device variants that share a Device record.
type Kind string

// Kind constants.
const (
	KindDoorSensor Kind = "door_sensor"
	KindAlarmRelay Kind = "alarm_relay"
)

// AllKinds returns all valid kind values.
func AllKinds() []Kind {
	return []Kind{KindDoorSensor, KindAlarmRelay}
}

// DoorState represents the reported contact state of a door sensor.
// Alarm relays carry no door state.
type DoorState string

// DoorState constants.
const (
	DoorOpen    DoorState = "open"
	DoorClosed  DoorState = "closed"
	DoorUnknown DoorState = "unknown"
)

// RelayState is the commanded state of an alarm relay siren.
type RelayState string

// RelayState constants.
const (
	RelayOn  RelayState = "on"
	RelayOff RelayState = "off"
)

// Device is a registered field device: a door sensor or an alarm relay.
//
// The two kinds share network identity, telemetry, and lifecycle fields;
// Armed/State apply only to door sensors, Playing/Port/CooldownUntil only
// to alarm relays. The Kind field is the discriminator.
type Device struct {
	// Identity. ExternalID is assigned at registration and never changes.
	ExternalID string `json:"external_id"`
	Kind       Kind   `json:"kind"`
	Name       string `json:"name"`
	Building   string `json:"building"`

	// Network identity, bound at first successful handshake and refreshed
	// only when the reporting address changes.
	IPAddress  string `json:"ip_address,omitempty"`
	MACAddress string `json:"mac_address,omitempty"`

	// Last-reported telemetry. History is kept externally; the record holds
	// only the most recent accepted values.
	Temperature *float64 `json:"temperature,omitempty"`
	Voltage     *float64 `json:"voltage,omitempty"`
	Frequency   *float64 `json:"frequency,omitempty"`

	// ExpectedSecondsUpdated is the device's self-declared heartbeat
	// interval, consumed by external health monitoring.
	ExpectedSecondsUpdated int `json:"expected_seconds_updated,omitempty"`

	// LastUpdated is the time of the most recent accepted telemetry or
	// handshake.
	LastUpdated time.Time `json:"last_updated"`

	// Deleted marks a soft-deleted record. Deleted records are excluded
	// from lookups; their external log rows are retained for audit.
	Deleted bool `json:"deleted,omitempty"`

	// Door sensor fields.
	Armed bool      `json:"armed,omitempty"`
	State DoorState `json:"state,omitempty"`

	// Alarm relay fields. Port is the relay's HTTP command port.
	Playing       bool       `json:"playing,omitempty"`
	Port          int        `json:"port,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// IsSensor reports whether the device is a door sensor.
func (d *Device) IsSensor() bool {
	return d.Kind == KindDoorSensor
}

// IsAlarm reports whether the device is an alarm relay.
func (d *Device) IsAlarm() bool {
	return d.Kind == KindAlarmRelay
}

// InCooldown reports whether an alarm relay is inside its re-trigger
// cooldown window at the given instant.
func (d *Device) InCooldown(now time.Time) bool {
	return d.CooldownUntil != nil && now.Before(*d.CooldownUntil)
}

// Clone creates an independent copy of the Device.
// Pointer fields are duplicated so modifications to the copy do not
// affect the original.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Temperature = clonePtr(d.Temperature)
	cpy.Voltage = clonePtr(d.Voltage)
	cpy.Frequency = clonePtr(d.Frequency)
	cpy.CooldownUntil = clonePtr(d.CooldownUntil)
	return &cpy
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Thresholds is the single building-wide temperature configuration record.
// It lives in the external store so that all evaluations observe the same
// independently-fresh values.
type Thresholds struct {
	// Warning is the temperature (°C) above which a warning event is raised.
	Warning float64 `json:"warning"`

	// Critical is the temperature (°C) above which a critical event is
	// raised. Critical takes precedence: a reading above Critical never
	// also raises a warning.
	Critical float64 `json:"critical"`
}
