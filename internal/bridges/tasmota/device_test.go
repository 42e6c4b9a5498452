package tasmota

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

func newGenericTestDevice(t *testing.T, swap bool, caps ...string) *testDevice {
	t.Helper()
	return newTestDevice(t, NewGenericFamily(testSchema()), genericRecord("dev1", "plug", swap, caps...))
}

func (td *testDevice) available(t *testing.T) bool {
	t.Helper()
	d, err := td.reg.GetDevice(context.Background(), td.dev.ID())
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	return d.Available
}

func (td *testDevice) value(t *testing.T, capability string) any {
	t.Helper()
	v, _ := td.reg.CapabilityValue(td.dev.ID(), capability)
	return v
}

func TestDevice_Start(t *testing.T) {
	td := newGenericTestDevice(t, false)

	if td.dev.Stage() != StageInit {
		t.Errorf("Stage() = %v, want init", td.dev.Stage())
	}
	if td.available(t) {
		t.Error("device should be unavailable in the host after start")
	}
	if !td.pub.hasPublished("cmnd/plug/Status", "11") {
		t.Errorf("expected Status 11 poll, got %v", td.pub.GetPublished())
	}
	if want := td.clock.Now().Add(DefaultAnswerTimeout); !td.dev.AnswerTimeout().Equal(want) {
		t.Errorf("AnswerTimeout() = %v, want %v", td.dev.AnswerTimeout(), want)
	}
}

func TestDevice_TimeoutMakesUnavailableOnce(t *testing.T) {
	td := newGenericTestDevice(t, false)

	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/STATUS11", `{"StatusSTS":{"POWER":"ON"}}`)))
	if td.dev.Stage() != StageAvailable {
		t.Fatalf("Stage() = %v, want available", td.dev.Stage())
	}
	if len(td.observer.changes) != 0 {
		t.Fatalf("init -> available must not be reported, got %v", td.observer.changes)
	}

	// Poll due immediately; nobody answers it.
	mustNoError(t, td.dev.CheckStatus())
	td.clock.Advance(DefaultAnswerTimeout + time.Second)
	mustNoError(t, td.dev.CheckStatus())

	if td.dev.Stage() != StageUnavailable {
		t.Fatalf("Stage() = %v, want unavailable", td.dev.Stage())
	}
	if td.available(t) {
		t.Error("host should see the device unavailable")
	}
	if want := td.clock.Now().Add(DefaultAnswerTimeout); !td.dev.AnswerTimeout().Equal(want) {
		t.Errorf("AnswerTimeout() = %v, want the re-poll deadline %v", td.dev.AnswerTimeout(), want)
	}

	for range 5 {
		td.clock.Advance(30 * time.Second)
		mustNoError(t, td.dev.CheckStatus())
	}

	if len(td.observer.changes) != 1 {
		t.Fatalf("observer called %d times, want 1: %v", len(td.observer.changes), td.observer.changes)
	}
	got := td.observer.changes[0]
	want := StatusChange{Driver: GenericDriver, Name: "Device dev1", DeviceID: "dev1", Status: false}
	if got != want {
		t.Errorf("change = %+v, want %+v", got, want)
	}
}

func TestDevice_RecoversOnReply(t *testing.T) {
	td := newGenericTestDevice(t, false)
	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/RESULT", `{"POWER":"OFF"}`)))
	mustNoError(t, td.dev.CheckStatus())
	td.clock.Advance(DefaultAnswerTimeout)
	mustNoError(t, td.dev.CheckStatus())
	if td.dev.Stage() != StageUnavailable {
		t.Fatalf("Stage() = %v, want unavailable", td.dev.Stage())
	}

	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/RESULT", `{"POWER":"ON"}`)))
	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/RESULT", `{"POWER":"OFF"}`)))

	if td.dev.Stage() != StageAvailable {
		t.Fatalf("Stage() = %v, want available", td.dev.Stage())
	}
	if !td.available(t) {
		t.Error("host should see the device available")
	}
	if len(td.observer.changes) != 2 {
		t.Fatalf("observer called %d times, want 2", len(td.observer.changes))
	}
	if !td.observer.changes[1].Status {
		t.Error("second change should report status true")
	}
}

func TestDevice_ReplyWhileAvailableResetsSchedule(t *testing.T) {
	td := newGenericTestDevice(t, false)
	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/RESULT", `{"POWER":"ON"}`)))
	mustNoError(t, td.dev.SendCommand("Status", "11"))

	td.clock.Advance(10 * time.Second)
	mustNoError(t, td.dev.HandleMessage(msg("tele/plug/STATE", `{"POWER":"ON"}`)))

	if !td.dev.AnswerTimeout().IsZero() {
		t.Errorf("AnswerTimeout() = %v, want cleared", td.dev.AnswerTimeout())
	}
	if want := td.clock.Now().Add(time.Minute); !td.dev.NextRequest().Equal(want) {
		t.Errorf("NextRequest() = %v, want %v", td.dev.NextRequest(), want)
	}
}

func TestDevice_SendCommandOnlyTightensTimeout(t *testing.T) {
	td := newGenericTestDevice(t, false)
	first := td.dev.AnswerTimeout()

	td.clock.Advance(10 * time.Second)
	mustNoError(t, td.dev.SendCommand("Power", ""))

	if !td.dev.AnswerTimeout().Equal(first) {
		t.Errorf("AnswerTimeout() = %v, want unchanged %v", td.dev.AnswerTimeout(), first)
	}
	if !td.pub.hasPublished("cmnd/plug/Power", "") {
		t.Error("command not published")
	}
}

func TestDevice_LWTOffline(t *testing.T) {
	td := newGenericTestDevice(t, false)
	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/RESULT", `{"POWER":"ON"}`)))
	td.pub.ClearPublished()

	mustNoError(t, td.dev.HandleMessage(msg("tele/plug/LWT", "Offline")))

	if td.dev.Stage() != StageUnavailable {
		t.Fatalf("Stage() = %v, want unavailable", td.dev.Stage())
	}
	if len(td.observer.changes) != 1 || td.observer.changes[0].Status {
		t.Errorf("changes = %v, want one status=false", td.observer.changes)
	}
	if !td.dev.LastSeen().IsZero() {
		t.Error("LastSeen() should be cleared")
	}
	if !td.pub.hasPublished("cmnd/plug/Status", "11") {
		t.Error("offline device should be polled immediately")
	}
	if want := td.clock.Now().Add(time.Minute); !td.dev.NextRequest().Equal(want) {
		t.Errorf("NextRequest() = %v, want %v", td.dev.NextRequest(), want)
	}
}

func TestDevice_LayoutGuard(t *testing.T) {
	tests := []struct {
		name      string
		swap      bool
		topic     string
		available bool
	}{
		{"prefix first device, prefix first topic", false, "stat/plug/RESULT", true},
		{"prefix first device, swapped topic", false, "plug/stat/RESULT", false},
		{"swapped device, swapped topic", true, "plug/stat/RESULT", true},
		{"swapped device, prefix first topic", true, "stat/plug/RESULT", false},
		{"too few segments", false, "stat/plug", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := newGenericTestDevice(t, tt.swap)
			mustNoError(t, td.dev.HandleMessage(msg(tt.topic, `{"POWER":"ON"}`)))
			if got := td.dev.Stage() == StageAvailable; got != tt.available {
				t.Errorf("available = %v, want %v", got, tt.available)
			}
		})
	}
}

func TestDevice_SwappedCommandTopic(t *testing.T) {
	td := newGenericTestDevice(t, true)
	if !td.pub.hasPublished("plug/cmnd/Status", "11") {
		t.Errorf("published = %v, want plug/cmnd/Status", td.pub.GetPublished())
	}
}

func TestDevice_Reconfigure(t *testing.T) {
	td := newGenericTestDevice(t, false)
	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/RESULT", `{"POWER":"ON"}`)))
	td.pub.ClearPublished()
	td.clock.Advance(5 * time.Second)

	settings := device.Settings{
		settingTopic:          "plug2",
		settingSwapPrefix:     false,
		settingRelays:         "1",
		settingUpdateInterval: 5,
	}
	td.dev.Reconfigure(settings, []string{settingTopic, settingUpdateInterval})

	if td.dev.Stage() != StageInit {
		t.Errorf("Stage() = %v, want init", td.dev.Stage())
	}
	if td.dev.Topic() != "plug2" {
		t.Errorf("Topic() = %q, want plug2", td.dev.Topic())
	}
	if !td.dev.NextRequest().Equal(td.clock.Now()) {
		t.Error("next poll should be due immediately")
	}
	if !td.pub.hasPublished("cmnd/plug2/Status", "11") {
		t.Errorf("published = %v, want poll on new topic", td.pub.GetPublished())
	}
	if len(td.observer.changes) != 0 {
		t.Errorf("available -> init must not be reported, got %v", td.observer.changes)
	}
}

func TestDevice_ReconfigureIntervalOnly(t *testing.T) {
	td := newGenericTestDevice(t, false)
	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/RESULT", `{"POWER":"ON"}`)))

	settings := device.Settings{settingTopic: "plug", settingRelays: "1", settingUpdateInterval: 5}
	td.dev.Reconfigure(settings, []string{settingUpdateInterval})

	if td.dev.Stage() != StageAvailable {
		t.Errorf("Stage() = %v, want available", td.dev.Stage())
	}
	mustNoError(t, td.dev.HandleMessage(msg("stat/plug/RESULT", `{"POWER":"ON"}`)))
	if want := td.clock.Now().Add(5 * time.Minute); !td.dev.NextRequest().Equal(want) {
		t.Errorf("NextRequest() = %v, want %v", td.dev.NextRequest(), want)
	}
}

func TestStage_String(t *testing.T) {
	tests := map[Stage]string{
		StageInit:        "init",
		StageAvailable:   "available",
		StageUnavailable: "unavailable",
		Stage(9):         "unknown",
	}
	for stage, want := range tests {
		if got := stage.String(); got != want {
			t.Errorf("Stage(%d).String() = %q, want %q", stage, got, want)
		}
	}
}
