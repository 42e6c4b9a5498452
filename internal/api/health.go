package api

import (
	"net/http"

	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Bridge  tasmota.Status `json:"bridge"`
	Devices device.Stats   `json:"devices"`
}

// handleHealth reports 200 while the broker connection is up and 503 when
// it is down or the bridge loop has stopped.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.bridge.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}

	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		Bridge:  st,
		Devices: s.registry.GetStats(),
	}
	status := http.StatusOK
	if !st.Connected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
