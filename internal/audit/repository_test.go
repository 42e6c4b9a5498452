package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tasmota-bridge/migrations"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	repo := NewSQLiteRepository(db.DB)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	repo.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return repo
}

func seed(t *testing.T, repo *SQLiteRepository, entries ...Entry) {
	t.Helper()
	for i := range entries {
		if err := repo.Create(context.Background(), &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
}

func TestSQLiteRepository_CreateDefaults(t *testing.T) {
	repo := newTestRepository(t)

	e := &Entry{Action: ActionPaired, DeviceID: "DVES_1", Driver: "tasmota"}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "aud-") || len(e.ID) != 12 {
		t.Errorf("ID = %q", e.ID)
	}
	if e.CreatedAt.IsZero() || e.Source != SourceAPI {
		t.Errorf("entry = %+v", e)
	}

	if err := repo.Create(context.Background(), &Entry{Action: ActionPaired}); err == nil {
		t.Error("Create() without device id error = nil")
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo,
		Entry{Action: ActionPaired, DeviceID: "a", Driver: "tasmota"},
		Entry{Action: ActionSettings, DeviceID: "a", Details: map[string]any{"changed": []any{"mqtt_topic"}}},
		Entry{Action: ActionPaired, DeviceID: "b", Driver: "zigbee"},
		Entry{Action: ActionConnection, DeviceID: "b", Source: SourceBridge, Details: map[string]any{"available": true}},
		Entry{Action: ActionRemoved, DeviceID: "a"},
	)

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string // device ids, newest first
		total   int
	}{
		{"all", Filter{}, []string{"a", "b", "b", "a", "a"}, 5},
		{"by action", Filter{Action: ActionPaired}, []string{"b", "a"}, 2},
		{"by device", Filter{DeviceID: "b"}, []string{"b", "b"}, 2},
		{"both", Filter{Action: ActionPaired, DeviceID: "a"}, []string{"a"}, 1},
		{"page", Filter{Limit: 2, Offset: 1}, []string{"b", "b"}, 5},
		{"none", Filter{DeviceID: "zz"}, []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			got := make([]string, len(res.Logs))
			for i, l := range res.Logs {
				got[i] = l.DeviceID
			}
			if strings.Join(got, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("devices = %v, want %v", got, tt.wantIDs)
			}
		})
	}

	res, err := repo.List(context.Background(), Filter{Action: ActionSettings})
	if err != nil {
		t.Fatal(err)
	}
	if changed, ok := res.Logs[0].Details["changed"].([]any); !ok || changed[0] != "mqtt_topic" {
		t.Errorf("details = %v", res.Logs[0].Details)
	}
}

func TestSQLiteRepository_ListClampsLimit(t *testing.T) {
	repo := newTestRepository(t)

	res, err := repo.List(context.Background(), Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("limit/offset = %d/%d", res.Limit, res.Offset)
	}

	res, err = repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Limit != defaultLimit {
		t.Errorf("default limit = %d", res.Limit)
	}
}

type failingRepo struct{ Repository }

func (failingRepo) Create(context.Context, *Entry) error { return errors.New("disk full") }

type countingWarn struct{ n int }

func (c *countingWarn) Warn(string, ...any) { c.n++ }

func TestConnectionSink(t *testing.T) {
	repo := newTestRepository(t)
	sink := NewConnectionSink(repo, nil)
	d := &device.Device{ID: "DVES_1", Driver: "tasmota", UnavailableReason: "no answer"}

	sink.CapabilityChanged(context.Background(), d, "onoff", true)
	sink.DeviceRemoved(context.Background(), "DVES_2")
	sink.AvailabilityChanged(context.Background(), d, false)

	res, err := repo.List(context.Background(), Filter{DeviceID: "DVES_1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 {
		t.Fatalf("Total = %d, want 1 (capabilities are not audited)", res.Total)
	}
	got := res.Logs[0]
	if got.Action != ActionConnection || got.Source != SourceBridge || got.Driver != "tasmota" {
		t.Errorf("entry = %+v", got)
	}
	if got.Details["available"] != false || got.Details["reason"] != "no answer" {
		t.Errorf("details = %v", got.Details)
	}

	warn := &countingWarn{}
	NewConnectionSink(failingRepo{}, warn).AvailabilityChanged(context.Background(), d, true)
	if warn.n != 1 {
		t.Errorf("warnings = %d, want 1", warn.n)
	}
}
