package tasmota

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

type driverFixture struct {
	driver   *Driver
	reg      *device.Registry
	pub      *MockPublisher
	clock    *fakeClock
	triggers *recordingTriggers
}

func newTestDriver(t *testing.T, family Family, records ...*device.Device) *driverFixture {
	t.Helper()
	f := &driverFixture{
		reg:      newTestRegistry(t, records...),
		pub:      NewMockPublisher(),
		clock:    newFakeClock(),
		triggers: &recordingTriggers{},
	}
	f.driver = NewDriver(DriverOptions{
		Family:    family,
		Registry:  f.reg,
		Publisher: f.pub,
		Triggers:  f.triggers,
		Clock:     f.clock,
		Defaults:  DescribeDefaults{UpdateInterval: 1},
	})
	f.driver.Load()
	return f
}

// route sends a message through the driver the way the router does.
func (f *driverFixture) route(t *testing.T, topic, payload string) {
	t.Helper()
	mustNoError(t, f.driver.Route(msg(topic, payload)))
}

// tickFor advances the clock in steps and ticks the driver after each.
func (f *driverFixture) tickFor(t *testing.T, total, step time.Duration) {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		mustNoError(t, f.driver.Tick(f.clock.Advance(step)))
	}
}

func TestDriver_Load(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()),
		genericRecord("dev1", "plug", false),
		zigbeeRecord("zb1", "zbbridge", "0x1234", 0),
	)

	devices := f.driver.Devices()
	if len(devices) != 1 || devices[0].ID() != "dev1" {
		t.Fatalf("Devices() = %v, want only dev1", devices)
	}
	if !f.pub.hasPublished("cmnd/plug/SetOption59", "1") {
		t.Error("Register should enable SetOption59")
	}
	if !f.pub.hasPublished("cmnd/plug/Status", "11") {
		t.Error("Start should poll the device")
	}
	if !f.reg.HasCapability("dev1", capSignalStrength) {
		t.Error("signal strength capability not added on load")
	}
}

func TestDriver_RouteToMatchingDevice(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()),
		genericRecord("plug", "plug", false),
		genericRecord("lamp", "lamp", false),
	)

	f.route(t, "stat/lamp/RESULT", `{"POWER":"ON"}`)
	f.route(t, "plug/stat/RESULT", `{"POWER":"ON"}`)

	lamp, _ := f.driver.Device("lamp")
	plug, _ := f.driver.Device("plug")
	if lamp.Stage() != StageAvailable {
		t.Errorf("lamp Stage() = %v, want available", lamp.Stage())
	}
	if plug.Stage() != StageInit {
		t.Errorf("plug Stage() = %v, want init for the other layout", plug.Stage())
	}
}

func TestDriver_RouteErrorNamesDriver(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()), genericRecord("dev1", "plug", false, capDim))

	err := f.driver.Route(msg("stat/plug/RESULT", `{"Dimmer":"bright"}`))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.HasPrefix(err.Error(), GenericDriver+": ") {
		t.Errorf("error = %q, want %s prefix", err, GenericDriver)
	}
}

func TestDriver_RouteZigbeeByShortAddress(t *testing.T) {
	f := newTestDriver(t, NewZigbeeFamily(testSchema()),
		zigbeeRecord("zb1", "zbbridge", "0x1111", 0, "measure_temperature"),
		zigbeeRecord("zb2", "zbbridge", "0x2222", 0, "measure_temperature"),
	)

	f.route(t, "tele/zbbridge/SENSOR", `{"ZbReceived":{"0x2222":{"Temperature":19}}}`)

	if v, _ := f.reg.CapabilityValue("zb2", "measure_temperature"); v != 19.0 {
		t.Errorf("zb2 temperature = %v, want 19", v)
	}
	if _, ok := f.reg.CapabilityValue("zb1", "measure_temperature"); ok {
		t.Error("zb1 should not receive zb2's report")
	}
}

func TestDriver_RouteOfflineToEveryZigbeeDevice(t *testing.T) {
	f := newTestDriver(t, NewZigbeeFamily(testSchema()),
		zigbeeRecord("zb1", "zbbridge", "0x1111", 0),
		zigbeeRecord("zb2", "zbbridge", "0x2222", 0),
		zigbeeRecord("zb3", "other", "0x3333", 0),
	)
	now := f.clock.Now()
	f.route(t, "stat/zbbridge/RESULT", statusReply("0x1111", now, ""))
	f.route(t, "stat/zbbridge/RESULT", statusReply("0x2222", now, ""))
	f.route(t, "stat/other/RESULT", statusReply("0x3333", now, ""))

	for _, id := range []string{"zb1", "zb2", "zb3"} {
		if dev, _ := f.driver.Device(id); dev.Stage() != StageAvailable {
			t.Fatalf("%s Stage() = %v, want available", id, dev.Stage())
		}
	}

	f.route(t, "tele/zbbridge/LWT", "Offline")

	tests := []struct {
		id   string
		want Stage
	}{
		{"zb1", StageUnavailable},
		{"zb2", StageUnavailable},
		{"zb3", StageAvailable},
	}
	for _, tt := range tests {
		if dev, _ := f.driver.Device(tt.id); dev.Stage() != tt.want {
			t.Errorf("%s Stage() = %v, want %v", tt.id, dev.Stage(), tt.want)
		}
	}
	if fired := f.triggers.named(TriggerConnectionChanged); len(fired) != 2 {
		t.Errorf("fired %d connection triggers, want 2", len(fired))
	}
}

func TestDriver_ConnectionChangedTrigger(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()), genericRecord("dev1", "plug", false))
	f.route(t, "stat/plug/RESULT", `{"POWER":"ON"}`)

	// First check polls, the poll goes unanswered past the answer timeout.
	f.tickFor(t, 90*time.Second, 30*time.Second)

	fired := f.triggers.named(TriggerConnectionChanged)
	if len(fired) != 1 {
		t.Fatalf("fired %d connection triggers, want 1", len(fired))
	}
	tokens := fired[0].Tokens
	if tokens["name"] != "Device dev1" || tokens["device_id"] != "dev1" || tokens["status"] != false {
		t.Errorf("tokens = %v", tokens)
	}

	f.route(t, "stat/plug/RESULT", `{"POWER":"ON"}`)
	fired = f.triggers.named(TriggerConnectionChanged)
	if len(fired) != 2 || fired[1].Tokens["status"] != true {
		t.Errorf("fired = %v, want a second status=true trigger", fired)
	}
}

func TestDriver_LastSeenTrigger(t *testing.T) {
	f := newTestDriver(t, NewZigbeeFamily(testSchema()), zigbeeRecord("zb1", "zbbridge", "0x1234", 0))

	f.route(t, "stat/zbbridge/RESULT", statusReply("0x1234", f.clock.Now().Add(-5*time.Second), ""))

	fired := f.triggers.named(TriggerLastSeenChanged)
	if len(fired) != 1 {
		t.Fatalf("fired %d last seen triggers, want 1", len(fired))
	}
	if fired[0].Tokens["device_id"] != "zb1" || fired[0].Tokens["value"] != int64(5) {
		t.Errorf("tokens = %v", fired[0].Tokens)
	}
}

func newPlugReplies(topic, client string) [][2]string {
	return [][2]string{
		{"stat/" + topic + "/STATUS", `{"Status":{"FriendlyName":["` + topic + `"]}}`},
		{"stat/" + topic + "/STATUS6", `{"StatusMQT":{"MqttClient":"` + client + `"}}`},
		{"stat/" + topic + "/STATUS11", `{"StatusSTS":{"POWER":"OFF"}}`},
	}
}

func TestDriver_PairingFlow(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()), genericRecord("paired", "paired", false))
	f.pub.ClearPublished()

	session := f.driver.StartPairing()
	if session.ID == "" || session.Done {
		t.Fatalf("session = %+v", session)
	}
	for _, topic := range []string{"cmnd/sonoffs/Status", "sonoffs/cmnd/Status", "cmnd/tasmotas/Status", "tasmotas/cmnd/Status"} {
		if !f.pub.hasPublished(topic, "0") {
			t.Errorf("probe %s not published", topic)
		}
	}
	_, err := f.driver.PairingResult()
	wantErr(t, err, ErrPairingInProgress)

	for _, m := range newPlugReplies("newplug", "DVES_NEW") {
		f.route(t, m[0], m[1])
	}
	for _, m := range newPlugReplies("paired", "DVES_PAIRED") {
		f.route(t, m[0], m[1])
	}
	f.route(t, "tele/late/LWT", "Online")
	if !f.pub.hasPublished("cmnd/late/Status", "0") {
		t.Error("online announcement should be probed")
	}

	f.tickFor(t, 2*time.Second, 2*time.Second)
	_, err = f.driver.PairingResult()
	wantErr(t, err, ErrPairingInProgress)

	f.tickFor(t, 2*time.Second, 2*time.Second)
	found, err := f.driver.PairingResult()
	mustNoError(t, err)
	if len(found) != 1 || found[0].ID != "DVES_NEW" {
		t.Fatalf("found = %v, want DVES_NEW only", found)
	}

	created, err := f.driver.CreateDevices(nil)
	mustNoError(t, err)
	if len(created) != 1 || created[0].Driver != GenericDriver {
		t.Fatalf("created = %v", created)
	}
	if _, ok := f.driver.Device("DVES_NEW"); !ok {
		t.Error("created device has no runtime device")
	}
	if _, err := f.reg.GetDevice(context.Background(), "DVES_NEW"); err != nil {
		t.Errorf("created device not persisted: %v", err)
	}
	if !f.pub.hasPublished("cmnd/newplug/Status", "11") {
		t.Error("created device should be polled")
	}
	remaining, err := f.driver.PairingResult()
	mustNoError(t, err)
	if len(remaining) != 0 {
		t.Errorf("remaining = %v, want none", remaining)
	}
}

func TestDriver_PairingNoMessages(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()))
	f.driver.StartPairing()

	f.tickFor(t, DefaultPairingTimeout-2*time.Second, 2*time.Second)
	_, err := f.driver.PairingResult()
	wantErr(t, err, ErrPairingInProgress)

	f.tickFor(t, 2*time.Second, 2*time.Second)
	_, err = f.driver.PairingResult()
	wantErr(t, err, ErrNoMessages)

	session, err := f.driver.Pairing()
	mustNoError(t, err)
	if !session.Done || !errors.Is(session.Err(), ErrNoMessages) {
		t.Errorf("session = %+v, err %v", session, session.Err())
	}
}

func TestDriver_PairingNoNewDevices(t *testing.T) {
	tests := []struct {
		name    string
		family  Family
		records []*device.Device
		replies [][2]string
	}{
		{
			name:    "no client id",
			family:  NewGenericFamily(testSchema()),
			replies: [][2]string{{"stat/anon/STATUS", `{"Status":{}}`}},
		},
		{
			name:    "zigbee device already paired",
			family:  NewZigbeeFamily(testSchema()),
			records: []*device.Device{zigbeeRecord("zb1", "zbbridge", "0x1234", 0)},
			replies: [][2]string{{"stat/zbbridge/RESULT", `{"ZbStatus3":[{"Device":"0x1234"}]}`}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestDriver(t, tt.family, tt.records...)
			f.driver.StartPairing()
			for _, m := range tt.replies {
				f.route(t, m[0], m[1])
			}
			f.tickFor(t, 4*time.Second, 2*time.Second)

			_, err := f.driver.PairingResult()
			wantErr(t, err, ErrNoNewDevices)
		})
	}
}

func TestDriver_StopPairing(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()))
	f.driver.StartPairing()
	f.driver.StopPairing()

	_, err := f.driver.Pairing()
	wantErr(t, err, ErrNoPairingSession)
	_, err = f.driver.PairingResult()
	wantErr(t, err, ErrNoPairingSession)

	for _, m := range newPlugReplies("newplug", "DVES_NEW") {
		f.route(t, m[0], m[1])
	}
	if f.driver.collector.MessageCount() != 0 {
		t.Error("stopped session must not collect")
	}
}

func TestDriver_CreateSelectedDevices(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()))
	f.driver.StartPairing()
	for _, m := range append(newPlugReplies("a", "DVES_A"), newPlugReplies("b", "DVES_B")...) {
		f.route(t, m[0], m[1])
	}
	f.tickFor(t, 4*time.Second, 2*time.Second)

	created, err := f.driver.CreateDevices([]string{"DVES_B"})
	mustNoError(t, err)
	if len(created) != 1 || created[0].ID != "DVES_B" {
		t.Fatalf("created = %v", created)
	}
	remaining, err := f.driver.PairingResult()
	mustNoError(t, err)
	if len(remaining) != 1 || remaining[0].ID != "DVES_A" {
		t.Errorf("remaining = %v, want DVES_A", remaining)
	}
}

func TestDriver_UnknownDevice(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()))

	wantErr(t, f.driver.SetCapability("missing", capOnOff, true), ErrDeviceNotFound)
	wantErr(t, f.driver.Reconfigure("missing", device.Settings{}, nil), ErrDeviceNotFound)
	if f.driver.RemoveDevice("missing") {
		t.Error("RemoveDevice() reported an unknown device")
	}
}

func TestDriver_RemoveDevice(t *testing.T) {
	f := newTestDriver(t, NewGenericFamily(testSchema()), genericRecord("dev1", "plug", false))

	if !f.driver.RemoveDevice("dev1") {
		t.Fatal("RemoveDevice() = false")
	}
	f.route(t, "stat/plug/RESULT", `{"POWER":"ON"}`)
	if v, ok := f.reg.CapabilityValue("dev1", "switch.1"); ok {
		t.Errorf("removed device still updated: %v", v)
	}
}
