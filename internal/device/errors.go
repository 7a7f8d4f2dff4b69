package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when no active record exists for the
	// requested external ID or IP address.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when registering a device with an external ID
	// that is already taken. External IDs are never reused.
	ErrExists = errors.New("device: already exists")

	// ErrIPConflict is returned when a save would bind an IP address that
	// is already bound to a different active device.
	ErrIPConflict = errors.New("device: ip address bound to another device")

	// ErrInvalidKind is returned when a kind value is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrUnavailable is returned when the external store cannot be
	// reached. Callers must treat this as "not confirmed", never as
	// silent success.
	ErrUnavailable = errors.New("device: store unavailable")

	// ErrNoThresholds is returned when the global threshold configuration
	// record is missing from the store.
	ErrNoThresholds = errors.New("device: threshold config not found")
)
