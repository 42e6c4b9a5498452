package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
)

func TestStartPairing(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/v1/drivers/tasmota/pairing", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if s := decode[tasmota.PairingSession](t, rec); s.ID != "s1" || s.Driver != "tasmota" {
		t.Errorf("session = %+v", s)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/drivers/hue/pairing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown driver status = %d, want 404", rec.Code)
	}

	f.bridge.startErr = tasmota.ErrTransportUnavailable
	rec = f.do(t, http.MethodPost, "/api/v1/drivers/tasmota/pairing", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disconnected status = %d, want 503", rec.Code)
	}
	if e := decode[Error](t, rec); e.Code != ErrCodeUnavailable {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeUnavailable)
	}
}

func TestGetPairing(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"collecting", tasmota.ErrPairingInProgress, http.StatusAccepted, ""},
		{"done", nil, http.StatusOK, ""},
		{"no messages", tasmota.ErrNoMessages, http.StatusNotFound, ErrCodeNoMessages},
		{"no new devices", tasmota.ErrNoNewDevices, http.StatusNotFound, ErrCodeNoNewDevices},
		{"no session", tasmota.ErrNoPairingSession, http.StatusNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestServer(t)
			f.bridge.session = &tasmota.PairingSession{
				ID:        "s1",
				Driver:    "tasmota",
				StartedAt: time.Now(),
				Done:      tt.err == nil,
				Devices:   []tasmota.Descriptor{{ID: "DVES_1", Name: "Plug", Address: "plug"}},
			}
			f.bridge.pairingErr = tt.err

			rec := f.do(t, http.MethodGet, "/api/v1/drivers/tasmota/pairing", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantErr != "" {
				if e := decode[Error](t, rec); e.Code != tt.wantErr {
					t.Errorf("code = %q, want %q", e.Code, tt.wantErr)
				}
				return
			}
			s := decode[tasmota.PairingSession](t, rec)
			if tt.err == nil && (len(s.Devices) != 1 || s.Devices[0].ID != "DVES_1") {
				t.Errorf("devices = %+v", s.Devices)
			}
		})
	}
}

func TestStopPairing(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodDelete, "/api/v1/drivers/zigbee/pairing", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(f.bridge.stopped) != 1 || f.bridge.stopped[0] != "zigbee" {
		t.Errorf("stopped = %v", f.bridge.stopped)
	}
}

func TestCreatePairedDevices(t *testing.T) {
	plug := *testPlug("DVES_1", "plug")
	dupErr := fmt.Errorf("creating DVES_2: %w", device.ErrDuplicateAddress)

	tests := []struct {
		name      string
		body      string
		created   []device.Device
		err       error
		wantCode  int
		wantIDs   []string
		wantCount int
	}{
		{"all", "", []device.Device{plug}, nil, http.StatusCreated, nil, 1},
		{"selected", `{"ids":["DVES_1"]}`, []device.Device{plug}, nil, http.StatusCreated, []string{"DVES_1"}, 1},
		{"partial", `{"ids":["DVES_1","DVES_2"]}`, []device.Device{plug}, errors.Join(dupErr), http.StatusCreated, []string{"DVES_1", "DVES_2"}, 1},
		{"duplicate", `{"ids":["DVES_2"]}`, nil, errors.Join(dupErr), http.StatusConflict, []string{"DVES_2"}, 0},
		{"still collecting", "", nil, tasmota.ErrPairingInProgress, http.StatusConflict, nil, 0},
		{"nothing found", "", nil, tasmota.ErrNoNewDevices, http.StatusNotFound, nil, 0},
		{"bad json", `{"ids":`, nil, nil, http.StatusBadRequest, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestServer(t)
			f.bridge.created = tt.created
			f.bridge.createErr = tt.err

			rec := f.do(t, http.MethodPost, "/api/v1/drivers/tasmota/pairing/devices", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusCreated {
				return
			}
			if fmt.Sprint(f.bridge.createIDs) != fmt.Sprint(tt.wantIDs) {
				t.Errorf("ids = %v, want %v", f.bridge.createIDs, tt.wantIDs)
			}
			resp := decode[createDevicesResponse](t, rec)
			if resp.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", resp.Count, tt.wantCount)
			}
			if (tt.err != nil) != (resp.Errors != "") {
				t.Errorf("errors = %q", resp.Errors)
			}
		})
	}
}
