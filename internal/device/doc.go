// Package device defines the device registry: the authoritative record
// of every door sensor and alarm relay that has ever joined the
// network, plus the global temperature thresholds.
//
// # Identity Model
//
// Every device carries an administrator-assigned external ID that is
// permanent for the device's lifetime and never reissued after
// removal (records are soft-deleted, not erased). Network identity
// (IP and MAC address) is learned at handshake time and may change
// across reprovisioning; an IP address maps to at most one active
// device at any moment.
//
// # Storage
//
// The canonical store is Redis (see RedisRepository). Records are JSON
// documents with a secondary index from IP address to external ID, and
// per-kind sets for listing. The process never caches registry reads:
// multiple cores sharing one store stay consistent without
// invalidation traffic. Store outages surface as ErrUnavailable and
// must be treated as "not confirmed" by callers, never as success.
package device
