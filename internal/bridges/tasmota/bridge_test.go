package tasmota

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

type bridgeFixture struct {
	bridge *Bridge
	pub    *MockPublisher
	clock  *fakeClock
	reg    *device.Registry
	stop   func()
}

func newTestBridge(t *testing.T, policy ErrorPolicy, records ...*device.Device) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		pub:   NewMockPublisher(),
		clock: newFakeClock(),
		reg:   newTestRegistry(t, records...),
	}
	drivers := []*Driver{
		NewDriver(DriverOptions{Family: NewGenericFamily(testSchema()), Registry: f.reg, Publisher: f.pub, Clock: f.clock}),
		NewDriver(DriverOptions{Family: NewZigbeeFamily(testSchema()), Registry: f.reg, Publisher: f.pub, Clock: f.clock}),
	}
	b, err := New(Options{
		Transport:        f.pub,
		Drivers:          drivers,
		Clock:            f.clock,
		Policy:           policy,
		TickInterval:     time.Hour,
		WatchdogInterval: time.Hour,
	})
	mustNoError(t, err)
	f.bridge = b

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	f.stop = func() {
		cancel()
		<-done
	}
	t.Cleanup(func() {
		select {
		case <-b.stopped:
		default:
			f.stop()
		}
	})

	// Wait until Run has loaded the drivers.
	mustNoError(t, b.Do(context.Background(), func() error { return nil }))
	return f
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (f *bridgeFixture) stage(t *testing.T, id string) Stage {
	t.Helper()
	stage, err := f.bridge.DeviceStage(context.Background(), id)
	mustNoError(t, err)
	return stage
}

func TestNew_Validation(t *testing.T) {
	driver := NewDriver(DriverOptions{Family: NewGenericFamily(testSchema()), Registry: newTestRegistry(t), Publisher: NewMockPublisher()})

	if _, err := New(Options{Drivers: []*Driver{driver}}); err == nil {
		t.Error("New() without transport should fail")
	}
	if _, err := New(Options{Transport: NewMockPublisher()}); err == nil {
		t.Error("New() without drivers should fail")
	}
}

func TestBridge_HandleMessage(t *testing.T) {
	f := newTestBridge(t, PolicyLog, genericRecord("dev1", "plug", false))

	mustNoError(t, f.bridge.HandleMessage("stat/plug/RESULT", []byte(`{"POWER":"ON"}`)))

	eventually(t, "device available", func() bool { return f.stage(t, "dev1") == StageAvailable })
	if v, _ := f.reg.CapabilityValue("dev1", capOnOff); v != true {
		t.Errorf("onoff = %v, want true", v)
	}
}

func TestBridge_ErrorPolicy(t *testing.T) {
	tests := []struct {
		policy  ErrorPolicy
		wantErr bool
	}{
		{PolicyLog, false},
		{PolicyPropagate, true},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			f := newTestBridge(t, tt.policy, genericRecord("dev1", "plug", false, capDim))

			err := f.bridge.HandleMessage("stat/plug/RESULT", []byte(`{"POWER":"ON","Dimmer":"bright"}`))
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleMessage() error = %v, wantErr %v", err, tt.wantErr)
			}

			// The valid part of the message is applied either way.
			eventually(t, "power applied", func() bool {
				v, _ := f.reg.CapabilityValue("dev1", capOnOff)
				return v == true
			})
		})
	}
}

func TestBridge_Connected(t *testing.T) {
	f := newTestBridge(t, PolicyLog, genericRecord("dev1", "plug", false))

	f.bridge.Connected()

	want := []string{brokerUptimeTopic, "stat/#", "+/stat/#", "tele/#", "+/tele/#"}
	if got := f.pub.Subscriptions(); !slices.Equal(got, want) {
		t.Errorf("Subscriptions() = %v, want %v", got, want)
	}
	eventually(t, "refresh poll", func() bool { return f.pub.countPublished("cmnd/plug/Status") >= 2 })

	st, err := f.bridge.Status(context.Background())
	mustNoError(t, err)
	if st.LastMessage.IsZero() {
		t.Error("connecting should feed the watchdog")
	}

	// Messages delivered through the subscription reach the device.
	handler := f.pub.handlers["stat/#"]
	mustNoError(t, handler("stat/plug/RESULT", []byte(`{"POWER":"ON"}`)))
	eventually(t, "device available", func() bool { return f.stage(t, "dev1") == StageAvailable })
}

func TestBridge_Watchdog(t *testing.T) {
	pub := NewMockPublisher()
	clock := newFakeClock()
	driver := NewDriver(DriverOptions{Family: NewGenericFamily(testSchema()), Registry: newTestRegistry(t), Publisher: pub, Clock: clock})
	b, err := New(Options{Transport: pub, Drivers: []*Driver{driver}, Clock: clock})
	mustNoError(t, err)

	// Never fed: nothing to compare against.
	clock.Advance(time.Hour)
	b.checkWatchdog()

	mustNoError(t, b.router.Dispatch(brokerUptimeTopic, []byte("12345")))
	clock.Advance(DefaultWatchdogTimeout)
	b.checkWatchdog()
	if pub.Resets() != 0 {
		t.Fatal("reset inside the watchdog window")
	}

	clock.Advance(time.Second)
	b.checkWatchdog()
	eventually(t, "transport reset", func() bool { return pub.Resets() == 1 })
	if !b.router.LastMessage().IsZero() {
		t.Error("LastMessage should be cleared after a reset")
	}

	clock.Advance(time.Hour)
	b.checkWatchdog()
	time.Sleep(20 * time.Millisecond)
	if pub.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1 until traffic resumes", pub.Resets())
	}
}

func TestBridge_DoAfterStop(t *testing.T) {
	f := newTestBridge(t, PolicyLog)
	f.stop()

	err := f.bridge.Do(context.Background(), func() error { return nil })
	wantErr(t, err, ErrBridgeStopped)
}

func TestBridge_API(t *testing.T) {
	f := newTestBridge(t, PolicyLog, genericRecord("dev1", "plug", false))
	ctx := context.Background()

	_, err := f.bridge.StartPairing(ctx, "nope")
	wantErr(t, err, ErrUnknownDriver)
	wantErr(t, f.bridge.SetCapability(ctx, "missing", capOnOff, true), ErrDeviceNotFound)

	mustNoError(t, f.bridge.SetCapability(ctx, "dev1", capOnOff, true))
	if !f.pub.hasPublished("cmnd/plug/POWER0", "ON") {
		t.Error("capability write not published")
	}

	icon, err := f.bridge.DefaultIcon(ctx, "dev1")
	mustNoError(t, err)
	if icon != "power_socket.svg" {
		t.Errorf("DefaultIcon() = %q", icon)
	}

	session, err := f.bridge.StartPairing(ctx, ZigbeeDriver)
	mustNoError(t, err)
	if session.Driver != ZigbeeDriver {
		t.Errorf("session driver = %q", session.Driver)
	}
	_, err = f.bridge.Pairing(ctx, ZigbeeDriver)
	wantErr(t, err, ErrPairingInProgress)

	st, err := f.bridge.Status(ctx)
	mustNoError(t, err)
	if !st.Connected || st.Devices[GenericDriver] != 1 || !slices.Equal(st.Pairing, []string{ZigbeeDriver}) {
		t.Errorf("Status() = %+v", st)
	}

	mustNoError(t, f.bridge.StopPairing(ctx, ZigbeeDriver))
	_, err = f.bridge.Pairing(ctx, ZigbeeDriver)
	wantErr(t, err, ErrNoPairingSession)

	mustNoError(t, f.bridge.RemoveDevice(ctx, "dev1"))
	_, err = f.bridge.DeviceStage(ctx, "dev1")
	wantErr(t, err, ErrDeviceNotFound)
}

func TestBridge_StartPairingDisconnected(t *testing.T) {
	f := newTestBridge(t, PolicyLog)
	ctx := context.Background()
	f.pub.mu.Lock()
	f.pub.connected = false
	f.pub.mu.Unlock()

	session, err := f.bridge.StartPairing(ctx, GenericDriver)
	wantErr(t, err, ErrTransportUnavailable)
	if session != nil {
		t.Errorf("session = %+v, want nil", session)
	}
	_, err = f.bridge.Pairing(ctx, GenericDriver)
	wantErr(t, err, ErrNoPairingSession)
	if f.pub.countPublished("cmnd/tasmotas/Status") != 0 {
		t.Error("probe published while disconnected")
	}
}

func TestBridge_ApplySettings(t *testing.T) {
	f := newTestBridge(t, PolicyLog, genericRecord("dev1", "plug", false))
	ctx := context.Background()

	patch := device.Settings{settingTopic: "plug2"}
	changed, err := f.reg.UpdateSettings(ctx, "dev1", patch, "plug2")
	mustNoError(t, err)
	rec, err := f.reg.GetDevice(ctx, "dev1")
	mustNoError(t, err)

	mustNoError(t, f.bridge.ApplySettings(ctx, "dev1", rec.Settings, changed))
	if !f.pub.hasPublished("cmnd/plug2/Status", "11") {
		t.Errorf("published = %v, want poll on the new topic", f.pub.GetPublished())
	}
}

func TestErrorPolicy_String(t *testing.T) {
	if PolicyLog.String() != "log" || PolicyPropagate.String() != "propagate" {
		t.Error("unexpected policy names")
	}
}
