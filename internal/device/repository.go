package device

import "context"

// Repository is the persistence boundary for devices and the global
// threshold configuration. Every read goes to the external store; the
// process keeps no device cache, so concurrent cores stay consistent
// without coordination.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// FindByExternalID returns the active device with the given external
	// ID, or ErrNotFound. Soft-deleted records are invisible.
	FindByExternalID(ctx context.Context, externalID string) (*Device, error)

	// FindByIPAddress returns the active device currently bound to the
	// given IP address, or ErrNotFound.
	FindByIPAddress(ctx context.Context, ip string) (*Device, error)

	// Save writes the full device record, maintaining the IP index.
	// Returns ErrIPConflict when the device's IP is bound to a different
	// active device.
	Save(ctx context.Context, d *Device) error

	// SoftDelete marks the device removed and releases its IP binding.
	// The external ID stays reserved and is never reused.
	SoftDelete(ctx context.Context, externalID string) error

	// ListSensors returns all active door sensors.
	ListSensors(ctx context.Context) ([]*Device, error)

	// ListAlarms returns all active alarm relays.
	ListAlarms(ctx context.Context) ([]*Device, error)

	// ListSensorsByBuilding returns active door sensors in a building.
	ListSensorsByBuilding(ctx context.Context, building string) ([]*Device, error)

	// Thresholds returns the global temperature thresholds, or
	// ErrNoThresholds when the record has never been written.
	Thresholds(ctx context.Context) (*Thresholds, error)

	// SaveThresholds writes the global temperature thresholds.
	SaveThresholds(ctx context.Context, t *Thresholds) error

	// EnsureThresholds seeds default thresholds when none exist. It is a
	// no-op when the record is already present.
	EnsureThresholds(ctx context.Context, defaults Thresholds) error
}
