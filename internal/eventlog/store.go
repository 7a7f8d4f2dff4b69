package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmcallister/perimeter-core/internal/event"
	"github.com/jmcallister/perimeter-core/internal/infrastructure/database"
)

// timeFormat is how timestamps are stored in SQLite TEXT columns.
const timeFormat = time.RFC3339Nano

// Store is the durable audit trail: every raised event and every
// device-uploaded log batch lands here. It consumes from the event bus
// synchronously per event; durability relative to the fan-out is its
// own concern, not the bus's.
type Store struct {
	db *database.DB
}

// NewStore creates a store on an opened, migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Name implements event.Consumer.
func (s *Store) Name() string { return "eventlog" }

// Consume writes one event to the audit trail. All severities are
// kept; filtering is for notification channels, not the record.
func (s *Store) Consume(ctx context.Context, ev event.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (severity, message, source_system, raised_at)
		 VALUES (?, ?, ?, ?)`,
		string(ev.Severity), ev.Message, ev.SourceSystem, ev.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// StoredEvent is one audit trail row.
type StoredEvent struct {
	ID           int64          `json:"id"`
	Severity     event.Severity `json:"severity"`
	Message      string         `json:"message"`
	SourceSystem string         `json:"source_system"`
	RaisedAt     time.Time      `json:"raised_at"`
}

// RecentEvents returns the newest events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, severity, message, source_system, raised_at
		 FROM event_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	out := []StoredEvent{}
	for rows.Next() {
		var (
			ev       StoredEvent
			severity string
			raisedAt string
		)
		if err := rows.Scan(&ev.ID, &severity, &ev.Message, &ev.SourceSystem, &raisedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Severity = event.Severity(severity)
		if ev.RaisedAt, err = time.Parse(timeFormat, raisedAt); err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// DeviceLogEntry is one structured diagnostic record uploaded by a
// field device. Devices deduplicate on their side: Hash identifies the
// underlying fault, Count and LastSeen track repeats.
type DeviceLogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Type         string    `json:"type"`
	Class        string    `json:"class"`
	Function     string    `json:"function"`
	ErrorMessage string    `json:"error_message"`
	Hash         string    `json:"hash"`
	Count        int       `json:"count"`
	LastSeen     time.Time `json:"last_seen"`
}

// InsertDeviceLogs writes a device's log batch in one transaction.
// Rows reference the device by external ID and outlive its soft
// deletion.
func (s *Store) InsertDeviceLogs(ctx context.Context, deviceID string, entries []DeviceLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO device_log
		 (device_id, log_time, type, class, function, error_message, hash, count, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing device log insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Statement closed with tx

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			deviceID,
			e.Timestamp.UTC().Format(timeFormat),
			e.Type, e.Class, e.Function, e.ErrorMessage, e.Hash, e.Count,
			e.LastSeen.UTC().Format(timeFormat),
		); err != nil {
			return fmt.Errorf("inserting device log row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device logs: %w", err)
	}
	return nil
}

// DeviceLogs returns the newest log rows for one device, newest first.
func (s *Store) DeviceLogs(ctx context.Context, deviceID string, limit int) ([]DeviceLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT log_time, type, class, function, error_message, hash, count, last_seen
		 FROM device_log WHERE device_id = ? ORDER BY id DESC LIMIT ?`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying device logs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	out := []DeviceLogEntry{}
	for rows.Next() {
		var (
			e        DeviceLogEntry
			logTime  string
			lastSeen string
		)
		if err := rows.Scan(&logTime, &e.Type, &e.Class, &e.Function, &e.ErrorMessage, &e.Hash, &e.Count, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning device log: %w", err)
		}
		if e.Timestamp, err = time.Parse(timeFormat, logTime); err != nil {
			return nil, fmt.Errorf("parsing log timestamp: %w", err)
		}
		if e.LastSeen, err = time.Parse(timeFormat, lastSeen); err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device logs: %w", err)
	}
	return out, nil
}
