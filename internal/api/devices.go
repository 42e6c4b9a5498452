package api

import (
	"encoding/json"
	"errors"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tasmota-bridge/internal/audit"
	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// deviceResponse is a device with its current capability values.
type deviceResponse struct {
	device.Device
	Values map[string]any `json:"values"`
}

// handleListDevices returns all devices, optionally filtered by ?driver=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var devices []device.Device
	if driver := r.URL.Query().Get("driver"); driver != "" {
		devices = s.registry.ListByDriver(r.Context(), driver)
	} else {
		devices = s.registry.ListDevices(r.Context())
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeDeviceError(w, err, "failed to get device")
		return
	}

	values := s.registry.CapabilityValues(id)
	if values == nil {
		values = map[string]any{}
	}
	writeJSON(w, http.StatusOK, deviceResponse{Device: *dev, Values: values})
}

// handleDeleteDevice unpairs a device and stops its runtime instance.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeDeviceError(w, err, "failed to get device")
		return
	}
	if err := s.registry.DeleteDevice(r.Context(), id); err != nil {
		writeDeviceError(w, err, "failed to delete device")
		return
	}
	if err := s.bridge.RemoveDevice(r.Context(), id); err != nil {
		s.logger.Warn("stopping runtime device failed", "device_id", id, "error", err)
	}
	s.record(r, audit.Entry{
		Action:   audit.ActionRemoved,
		DeviceID: id,
		Driver:   dev.Driver,
		Details:  map[string]any{"name": dev.Name, "address": dev.Address},
	})

	w.WriteHeader(http.StatusNoContent)
}

// setCapabilityRequest is the body of PUT /devices/{id}/capabilities/{capability}.
type setCapabilityRequest struct {
	Value any `json:"value"`
}

// handleSetCapability translates a host capability write into a device command.
func (s *Server) handleSetCapability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	capability := chi.URLParam(r, "capability")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		writeDeviceError(w, err, "failed to get device")
		return
	}
	if !s.registry.HasCapability(id, capability) {
		writeNotFound(w, "capability not found")
		return
	}

	var req setCapabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	if err := s.bridge.SetCapability(r.Context(), id, capability, req.Value); err != nil {
		writeBridgeError(w, err)
		return
	}
	s.record(r, audit.Entry{
		Action:   audit.ActionCommand,
		DeviceID: id,
		Driver:   dev.Driver,
		Details:  map[string]any{"capability": capability, "value": req.Value},
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

// settingsResponse is the body returned by PATCH /devices/{id}/settings.
type settingsResponse struct {
	Device  device.Device `json:"device"`
	Changed []string      `json:"changed"`
}

// handleUpdateSettings merges a settings patch, persists it, reconfigures
// the runtime device and refreshes its icon.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(ctx, id)
	if err != nil {
		writeDeviceError(w, err, "failed to get device")
		return
	}

	var patch device.Settings
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	merged := maps.Clone(dev.Settings)
	if merged == nil {
		merged = device.Settings{}
	}
	maps.Copy(merged, patch)
	address, err := s.bridge.Address(dev.Driver, merged)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	changed, err := s.registry.UpdateSettings(ctx, id, patch, address)
	if err != nil {
		writeDeviceError(w, err, "failed to update settings")
		return
	}

	if len(changed) > 0 {
		s.reconfigure(r, id, changed)
		s.record(r, audit.Entry{
			Action:   audit.ActionSettings,
			DeviceID: id,
			Driver:   dev.Driver,
			Details:  map[string]any{"changed": changed},
		})
	}

	updated, err := s.registry.GetDevice(ctx, id)
	if err != nil {
		writeDeviceError(w, err, "failed to get device")
		return
	}
	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, http.StatusOK, settingsResponse{Device: *updated, Changed: changed})
}

// reconfigure pushes persisted settings into the runtime device. Failures
// are logged: the settings are already stored and apply on the next start.
func (s *Server) reconfigure(r *http.Request, id string, changed []string) {
	ctx := r.Context()

	updated, err := s.registry.GetDevice(ctx, id)
	if err != nil {
		return
	}
	if err := s.bridge.ApplySettings(ctx, id, updated.Settings, changed); err != nil {
		s.logger.Warn("applying settings to runtime device failed", "device_id", id, "error", err)
		return
	}

	icon, err := s.bridge.DefaultIcon(ctx, id)
	if err != nil || icon == "" || icon == updated.Icon {
		return
	}
	if err := s.registry.SetIcon(ctx, id, icon); err != nil {
		s.logger.Warn("updating device icon failed", "device_id", id, "error", err)
	}
}

// writeDeviceError maps registry errors to HTTP responses.
func writeDeviceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrDuplicateAddress), errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, device.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, fallback)
	}
}

// writeBridgeError maps bridge errors to HTTP responses.
func writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasmota.ErrUnknownDriver):
		writeNotFound(w, "driver not found")
	case errors.Is(err, tasmota.ErrDeviceNotFound), errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, tasmota.ErrNoPairingSession):
		writeNotFound(w, "no pairing session")
	case errors.Is(err, tasmota.ErrNoMessages):
		writeError(w, http.StatusNotFound, ErrCodeNoMessages, err.Error())
	case errors.Is(err, tasmota.ErrNoNewDevices):
		writeError(w, http.StatusNotFound, ErrCodeNoNewDevices, err.Error())
	case errors.Is(err, tasmota.ErrPairingInProgress):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, tasmota.ErrUnsupportedCapability), errors.Is(err, tasmota.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, device.ErrDuplicateAddress), errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, tasmota.ErrBridgeStopped), errors.Is(err, tasmota.ErrTransportUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
