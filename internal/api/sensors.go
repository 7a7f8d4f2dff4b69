package api

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/engine"
)

// Telemetry bounds accepted from field devices. Readings outside these
// are sensor faults, not weather.
const (
	minTemperature = -100.0
	maxTemperature = 120.0
)

// sensorUpdateRequest is one telemetry report from a door sensor.
// The sender is identified by its source IP, not by anything in the body.
type sensorUpdateRequest struct {
	State       string   `json:"state"`
	Temperature *float64 `json:"temperature"`
	Voltage     *float64 `json:"voltage"`
	Frequency   *float64 `json:"frequency"`
}

// handleSensorUpdate ingests a telemetry report. The device is resolved
// by the connection's remote IP; an IP with no registered device gets a
// plain 404 with no event raised.
func (s *Server) handleSensorUpdate(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if ip == "" {
		writeBadRequest(w, "could not determine sender address")
		return
	}

	var req sensorUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	state := device.DoorState(req.State)
	if state != device.DoorOpen && state != device.DoorClosed {
		writeBadRequest(w, "state must be \"open\" or \"closed\"")
		return
	}
	if req.Temperature != nil && (*req.Temperature < minTemperature || *req.Temperature > maxTemperature) {
		writeBadRequest(w, "temperature out of range")
		return
	}

	d, err := s.engine.UpdateByIP(r.Context(), ip, engine.Telemetry{
		State:       state,
		Temperature: req.Temperature,
		Voltage:     req.Voltage,
		Frequency:   req.Frequency,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.broadcastSnapshot(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"armed":   d.Armed,
		"message": "update accepted",
	})
}

// handshakeRequest identifies a device claiming its network address.
type handshakeRequest struct {
	ID         string `json:"id"`
	MACAddress string `json:"mac_address"`
	IPAddress  string `json:"ip_address"`
}

// handleHandshake binds or refreshes a device's IP and MAC. When the
// body omits ip_address the connection's remote IP is used. Replaying
// identical data is a no-op.
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req handshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeBadRequest(w, "id is required")
		return
	}
	if req.MACAddress == "" {
		writeBadRequest(w, "mac_address is required")
		return
	}

	ip := req.IPAddress
	if ip == "" {
		ip = remoteIP(r)
	}
	if ip == "" {
		writeBadRequest(w, "could not determine device address")
		return
	}

	d, changed, err := s.engine.Handshake(r.Context(), req.ID, req.MACAddress, ip)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if changed {
		s.broadcastSnapshot(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"changed": changed,
		"device":  d,
	})
}

// createSensorRequest is the admin payload for registering a door sensor.
type createSensorRequest struct {
	Name                   string `json:"name"`
	Building               string `json:"building"`
	Armed                  bool   `json:"armed"`
	ExpectedSecondsUpdated int    `json:"expected_seconds_updated"`
}

// handleCreateSensor registers a new door sensor with an unbound network
// identity. The IP and MAC arrive later via handshake.
func (s *Server) handleCreateSensor(w http.ResponseWriter, r *http.Request) {
	var req createSensorRequest
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

	d := &device.Device{
		ExternalID:             uuid.NewString(),
		Kind:                   device.KindDoorSensor,
		Name:                   req.Name,
		Building:               req.Building,
		Armed:                  req.Armed,
		State:                  device.DoorUnknown,
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

// handleListSensors returns all active door sensors.
func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.repo.ListSensors(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": sensors})
}

// handleArmSensor arms one sensor. Arming with the door already open
// triggers the alarms immediately.
func (s *Server) handleArmSensor(w http.ResponseWriter, r *http.Request) {
	s.setArmed(w, r, true)
}

// handleDisarmSensor disarms one sensor.
func (s *Server) handleDisarmSensor(w http.ResponseWriter, r *http.Request) {
	s.setArmed(w, r, false)
}

func (s *Server) setArmed(w http.ResponseWriter, r *http.Request, armed bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeBadRequest(w, "id is required")
		return
	}

	d, err := s.engine.SetArmed(r.Context(), id, armed)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.broadcastSnapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"armed":  d.Armed,
	})
}

// handleArmBuilding arms every sensor in a building with all-settled
// semantics: one sensor's registry failure never stops the rest.
func (s *Server) handleArmBuilding(w http.ResponseWriter, r *http.Request) {
	s.setArmedBuilding(w, r, true)
}

// handleDisarmBuilding disarms every sensor in a building.
func (s *Server) handleDisarmBuilding(w http.ResponseWriter, r *http.Request) {
	s.setArmedBuilding(w, r, false)
}

func (s *Server) setArmedBuilding(w http.ResponseWriter, r *http.Request, armed bool) {
	building := chi.URLParam(r, "building")
	if building == "" {
		writeBadRequest(w, "building is required")
		return
	}

	outcomes, err := s.engine.SetArmedBuilding(r.Context(), building, armed)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type outcome struct {
		ExternalID string `json:"external_id"`
		Triggered  bool   `json:"triggered,omitempty"`
		Error      string `json:"error,omitempty"`
	}
	results := make([]outcome, len(outcomes))
	failed := 0
	for i, o := range outcomes {
		results[i] = outcome{ExternalID: o.ExternalID, Triggered: o.Triggered}
		if o.Err != nil {
			results[i].Error = o.Err.Error()
			failed++
		}
	}

	s.broadcastSnapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"armed":   armed,
		"failed":  failed,
		"results": results,
	})
}

// remoteIP extracts the bare IP from the request's remote address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port (some test servers).
		return r.RemoteAddr
	}
	return host
}
