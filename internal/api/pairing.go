package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tasmota-bridge/internal/audit"
	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// handleStartPairing opens a discovery session, replacing any previous one.
func (s *Server) handleStartPairing(w http.ResponseWriter, r *http.Request) {
	session, err := s.bridge.StartPairing(r.Context(), chi.URLParam(r, "driver"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

// handleGetPairing reports the session: 202 while it is still collecting,
// 200 with the discovered descriptors once done, 404 when discovery found
// nothing.
func (s *Server) handleGetPairing(w http.ResponseWriter, r *http.Request) {
	session, err := s.bridge.Pairing(r.Context(), chi.URLParam(r, "driver"))
	switch {
	case errors.Is(err, tasmota.ErrPairingInProgress):
		writeJSON(w, http.StatusAccepted, session)
	case err != nil:
		writeBridgeError(w, err)
	default:
		writeJSON(w, http.StatusOK, session)
	}
}

// handleStopPairing abandons the session.
func (s *Server) handleStopPairing(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.StopPairing(r.Context(), chi.URLParam(r, "driver")); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createDevicesRequest selects descriptors by id. No ids selects all.
type createDevicesRequest struct {
	IDs []string `json:"ids"`
}

type createDevicesResponse struct {
	Devices []device.Device `json:"devices"`
	Count   int             `json:"count"`
	Errors  string          `json:"errors,omitempty"`
}

// handleCreatePairedDevices pairs the selected descriptors. A partial
// success still answers 201 and lists the failures.
func (s *Server) handleCreatePairedDevices(w http.ResponseWriter, r *http.Request) {
	var req createDevicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	created, err := s.bridge.CreateDevices(r.Context(), chi.URLParam(r, "driver"), req.IDs)
	if err != nil && len(created) == 0 {
		writeBridgeError(w, err)
		return
	}

	for _, d := range created {
		s.record(r, audit.Entry{
			Action:   audit.ActionPaired,
			DeviceID: d.ID,
			Driver:   d.Driver,
			Details:  map[string]any{"name": d.Name, "address": d.Address},
		})
	}

	resp := createDevicesResponse{Devices: created, Count: len(created)}
	if resp.Devices == nil {
		resp.Devices = []device.Device{}
	}
	if err != nil {
		resp.Errors = err.Error()
		s.logger.Warn("some devices could not be paired", "error", err)
	}
	writeJSON(w, http.StatusCreated, resp)
}
