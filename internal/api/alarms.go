package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/engine"
)

// createAlarmRequest is the admin payload for registering an alarm relay.
type createAlarmRequest struct {
	Name                   string `json:"name"`
	Building               string `json:"building"`
	Port                   int    `json:"port"`
	ExpectedSecondsUpdated int    `json:"expected_seconds_updated"`
}

// handleCreateAlarm registers a new alarm relay. Port is the relay's
// HTTP command port; the IP arrives later via handshake.
func (s *Server) handleCreateAlarm(w http.ResponseWriter, r *http.Request) {
	var req createAlarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if req.Building == "" {
		writeBadRequest(w, "building is required")
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		writeBadRequest(w, "port must be between 1 and 65535")
		return
	}

	d := &device.Device{
		ExternalID:             uuid.NewString(),
		Kind:                   device.KindAlarmRelay,
		Name:                   req.Name,
		Building:               req.Building,
		Port:                   req.Port,
		ExpectedSecondsUpdated: req.ExpectedSecondsUpdated,
		LastUpdated:            time.Now().UTC(),
	}

	if err := s.repo.Save(r.Context(), d); err != nil {
		writeDomainError(w, err)
		return
	}

	s.broadcastSnapshot(r.Context())
	writeJSON(w, http.StatusCreated, d)
}

// handleListAlarms returns all active alarm relays.
func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	alarms, err := s.repo.ListAlarms(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarms": alarms})
}

// handleAlarmsOn commands every registered relay on.
func (s *Server) handleAlarmsOn(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.TriggerAlarms(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.broadcastSnapshot(r.Context())
	writeJSON(w, http.StatusOK, commandResponse(results))
}

// handleAlarmsOff silences every registered relay and starts each
// relay's re-trigger cooldown.
func (s *Server) handleAlarmsOff(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.SilenceAlarms(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.broadcastSnapshot(r.Context())
	writeJSON(w, http.StatusOK, commandResponse(results))
}

// commandResponse summarises an all-settled relay batch. Per-relay
// failures are reported, never hidden behind an overall error.
func commandResponse(results []engine.CommandResult) map[string]any {
	type item struct {
		ExternalID string `json:"external_id"`
		Skipped    bool   `json:"skipped,omitempty"`
		Error      string `json:"error,omitempty"`
	}
	items := make([]item, len(results))
	failed := 0
	for i, res := range results {
		items[i] = item{ExternalID: res.ExternalID, Skipped: res.Skipped}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			failed++
		}
	}
	return map[string]any{
		"status":  "success",
		"failed":  failed,
		"results": items,
	}
}
