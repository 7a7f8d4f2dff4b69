package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Redis key layout.
//
//	device:{externalID}      JSON document, one per device ever registered
//	device:ip:{ip}           externalID currently bound to the IP (active only)
//	devices:sensors          set of active door sensor external IDs
//	devices:alarms           set of active alarm relay external IDs
//	config:thresholds        JSON threshold configuration
const (
	keyDevicePrefix = "device:"
	keyIPPrefix     = "device:ip:"
	keySensorSet    = "devices:sensors"
	keyAlarmSet     = "devices:alarms"
	keyThresholds   = "config:thresholds"
)

// RedisRepository implements Repository on top of Redis.
//
// Device records are stored as JSON documents. Active IP bindings are
// kept in a secondary index so that state reports arriving by IP
// resolve in a single lookup. Soft-deleted devices keep their record
// (the external ID stays reserved) but disappear from the IP index and
// the kind sets.
//
// Reads are never cached in-process: concurrent cores and external
// tooling see the same data without invalidation machinery.
type RedisRepository struct {
	rdb *goredis.Client
}

// NewRedisRepository creates a repository backed by the given client.
func NewRedisRepository(rdb *goredis.Client) *RedisRepository {
	return &RedisRepository{rdb: rdb}
}

// unavailable wraps a transport-level Redis failure so callers can
// classify it with errors.Is(err, ErrUnavailable).
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

func deviceKey(externalID string) string { return keyDevicePrefix + externalID }
func ipKey(ip string) string             { return keyIPPrefix + ip }

func kindSet(k Kind) (string, error) {
	switch k {
	case KindDoorSensor:
		return keySensorSet, nil
	case KindAlarmRelay:
		return keyAlarmSet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, k)
	}
}

// FindByExternalID returns the active device with the given external ID.
func (r *RedisRepository) FindByExternalID(ctx context.Context, externalID string) (*Device, error) {
	d, err := r.load(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if d.Deleted {
		return nil, fmt.Errorf("device %q: %w", externalID, ErrNotFound)
	}
	return d, nil
}

// load fetches a raw record, deleted or not.
func (r *RedisRepository) load(ctx context.Context, externalID string) (*Device, error) {
	data, err := r.rdb.Get(ctx, deviceKey(externalID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("device %q: %w", externalID, ErrNotFound)
		}
		return nil, unavailable("loading device", err)
	}

	var d Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding device %q: %w", externalID, err)
	}
	return &d, nil
}

// FindByIPAddress resolves the IP index and loads the bound device.
func (r *RedisRepository) FindByIPAddress(ctx context.Context, ip string) (*Device, error) {
	externalID, err := r.rdb.Get(ctx, ipKey(ip)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("ip %s: %w", ip, ErrNotFound)
		}
		return nil, unavailable("resolving ip index", err)
	}
	return r.FindByExternalID(ctx, externalID)
}

// Save writes the full device record and maintains the IP index and
// kind sets. When the device's IP changed, the old binding is released.
// Saving a soft-deleted record removes it from the index and sets.
func (r *RedisRepository) Save(ctx context.Context, d *Device) error {
	if d.ExternalID == "" {
		return fmt.Errorf("%w: empty external id", ErrInvalidDevice)
	}
	set, err := kindSet(d.Kind)
	if err != nil {
		return err
	}

	// Reject binding an IP that belongs to a different active device.
	if d.IPAddress != "" && !d.Deleted {
		bound, err := r.rdb.Get(ctx, ipKey(d.IPAddress)).Result()
		switch {
		case err != nil && !errors.Is(err, goredis.Nil):
			return unavailable("checking ip index", err)
		case err == nil && bound != d.ExternalID:
			return fmt.Errorf("ip %s held by %q: %w", d.IPAddress, bound, ErrIPConflict)
		}
	}

	// Previous record, if any, tells us which stale IP binding to drop.
	var prevIP string
	if prev, err := r.load(ctx, d.ExternalID); err == nil {
		prevIP = prev.IPAddress
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding device %q: %w", d.ExternalID, err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, deviceKey(d.ExternalID), data, 0)
	if prevIP != "" && prevIP != d.IPAddress {
		pipe.Del(ctx, ipKey(prevIP))
	}
	if d.Deleted {
		if d.IPAddress != "" {
			pipe.Del(ctx, ipKey(d.IPAddress))
		}
		pipe.SRem(ctx, set, d.ExternalID)
	} else {
		if d.IPAddress != "" {
			pipe.Set(ctx, ipKey(d.IPAddress), d.ExternalID, 0)
		}
		pipe.SAdd(ctx, set, d.ExternalID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("saving device", err)
	}
	return nil
}

// SoftDelete marks the device removed and releases its IP binding.
// The record itself stays so the external ID is never reissued.
func (r *RedisRepository) SoftDelete(ctx context.Context, externalID string) error {
	d, err := r.load(ctx, externalID)
	if err != nil {
		return err
	}
	if d.Deleted {
		return nil
	}
	d.Deleted = true
	return r.Save(ctx, d)
}

// ListSensors returns all active door sensors.
func (r *RedisRepository) ListSensors(ctx context.Context) ([]*Device, error) {
	return r.listSet(ctx, keySensorSet)
}

// ListAlarms returns all active alarm relays.
func (r *RedisRepository) ListAlarms(ctx context.Context) ([]*Device, error) {
	return r.listSet(ctx, keyAlarmSet)
}

// ListSensorsByBuilding returns active door sensors in the building.
func (r *RedisRepository) ListSensorsByBuilding(ctx context.Context, building string) ([]*Device, error) {
	all, err := r.listSet(ctx, keySensorSet)
	if err != nil {
		return nil, err
	}
	out := make([]*Device, 0, len(all))
	for _, d := range all {
		if d.Building == building {
			out = append(out, d)
		}
	}
	return out, nil
}

// listSet loads every member of a kind set. A member whose record has
// gone missing or been soft-deleted is skipped rather than failing the
// whole listing.
func (r *RedisRepository) listSet(ctx context.Context, set string) ([]*Device, error) {
	ids, err := r.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return nil, unavailable("listing devices", err)
	}
	if len(ids) == 0 {
		return []*Device{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = deviceKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("loading devices", err)
	}

	out := make([]*Device, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // record expired or removed since SMembers
		}
		var d Device
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decoding device %q: %w", ids[i], err)
		}
		if d.Deleted {
			continue
		}
		out = append(out, &d)
	}
	return out, nil
}

// Thresholds returns the global temperature thresholds.
func (r *RedisRepository) Thresholds(ctx context.Context) (*Thresholds, error) {
	data, err := r.rdb.Get(ctx, keyThresholds).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNoThresholds
		}
		return nil, unavailable("loading thresholds", err)
	}
	var t Thresholds
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding thresholds: %w", err)
	}
	return &t, nil
}

// SaveThresholds writes the global temperature thresholds.
func (r *RedisRepository) SaveThresholds(ctx context.Context, t *Thresholds) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding thresholds: %w", err)
	}
	if err := r.rdb.Set(ctx, keyThresholds, data, 0).Err(); err != nil {
		return unavailable("saving thresholds", err)
	}
	return nil
}

// EnsureThresholds seeds defaults when no threshold record exists yet.
func (r *RedisRepository) EnsureThresholds(ctx context.Context, defaults Thresholds) error {
	data, err := json.Marshal(&defaults)
	if err != nil {
		return fmt.Errorf("encoding thresholds: %w", err)
	}
	if err := r.rdb.SetNX(ctx, keyThresholds, data, 0).Err(); err != nil {
		return unavailable("seeding thresholds", err)
	}
	return nil
}
