package engine

import "errors"

var (
	// ErrNotSensor is returned when a sensor operation targets a device
	// that is not a door sensor.
	ErrNotSensor = errors.New("engine: device is not a door sensor")

	// ErrNotAlarm is returned when an alarm operation targets a device
	// that is not an alarm relay.
	ErrNotAlarm = errors.New("engine: device is not an alarm relay")
)
