package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/eventlog"
)

// defaultHistoryLimit caps events and device log listings when the
// caller does not supply a limit.
const defaultHistoryLimit = 100

// Snapshot is the full registry view pushed to UI clients. Each
// snapshot is authoritative at receipt, never a delta.
type Snapshot struct {
	Sensors []*device.Device `json:"sensors"`
	Alarms  []*device.Device `json:"alarms"`
}

// handleSnapshot returns the current registry snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDeleteSensor soft-deletes a door sensor.
func (s *Server) handleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	s.deleteDevice(w, r, device.KindDoorSensor)
}

// handleDeleteAlarm soft-deletes an alarm relay.
func (s *Server) handleDeleteAlarm(w http.ResponseWriter, r *http.Request) {
	s.deleteDevice(w, r, device.KindAlarmRelay)
}

// deleteDevice soft-deletes a device through the collection matching
// its kind. The record stays in the store with its external ID
// reserved; its IP binding is released.
func (s *Server) deleteDevice(w http.ResponseWriter, r *http.Request, kind device.Kind) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeBadRequest(w, "id is required")
		return
	}

	if err := s.engine.Delete(r.Context(), id, kind); err != nil {
		writeDomainError(w, err)
		return
	}

	s.broadcastSnapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// handleRecentEvents returns the newest stored events.
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event log not configured")
		return
	}

	events, err := s.logs.RecentEvents(r.Context(), limitParam(r))
	if err != nil {
		writeInternalError(w, "failed to read event log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// deviceLogsRequest is a deduplicated log batch uploaded by a device.
type deviceLogsRequest struct {
	Entries []eventlog.DeviceLogEntry `json:"entries"`
}

// handleIngestDeviceLogs stores a device's log batch. The device must
// exist; rows are keyed by external ID and survive soft deletion.
func (s *Server) handleIngestDeviceLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device log not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeBadRequest(w, "id is required")
		return
	}

	var req deviceLogsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Entries) == 0 {
		writeBadRequest(w, "entries must not be empty")
		return
	}
	for i := range req.Entries {
		e := &req.Entries[i]
		if e.Timestamp.IsZero() {
			writeBadRequest(w, "entry timestamp is required")
			return
		}
		if e.Type == "" || e.Class == "" || e.Function == "" {
			writeBadRequest(w, "entry type, class, and function are required")
			return
		}
		if e.Hash == "" {
			writeBadRequest(w, "entry hash is required")
			return
		}
		if e.Count < 1 {
			e.Count = 1
		}
		if e.LastSeen.IsZero() {
			e.LastSeen = e.Timestamp
		}
	}

	// Reject uploads from unknown devices before touching the log store.
	if _, err := s.repo.FindByExternalID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := s.logs.InsertDeviceLogs(r.Context(), id, req.Entries); err != nil {
		writeInternalError(w, "failed to store device logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"stored": len(req.Entries),
	})
}

// handleListDeviceLogs returns a device's stored logs, newest first.
func (s *Server) handleListDeviceLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device log not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeBadRequest(w, "id is required")
		return
	}

	entries, err := s.logs.DeviceLogs(r.Context(), id, limitParam(r))
	if err != nil {
		writeInternalError(w, "failed to read device logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// snapshot assembles the current registry view.
func (s *Server) snapshot(ctx context.Context) (*Snapshot, error) {
	sensors, err := s.repo.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	alarms, err := s.repo.ListAlarms(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Sensors: sensors, Alarms: alarms}, nil
}

// broadcastSnapshot pushes the current registry snapshot to every
// connected WebSocket client. Best-effort: a registry read failure is
// logged and the broadcast skipped; the mutation that prompted it has
// already been persisted and acknowledged.
func (s *Server) broadcastSnapshot(ctx context.Context) {
	if s.hub == nil || s.hub.ClientCount() == 0 {
		return
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		s.logger.Warn("snapshot broadcast skipped", "error", err)
		return
	}
	s.hub.BroadcastSnapshot(snap)
}

// limitParam parses the "limit" query parameter.
func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultHistoryLimit
}
