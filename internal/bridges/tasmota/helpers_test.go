package tasmota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tasmota-bridge/internal/sensor"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type mockPublish struct {
	Topic   string
	Payload string
}

// MockPublisher records published messages. It also implements Transport.
type MockPublisher struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	handlers      map[string]mqtt.MessageHandler
	publishErr    error
	resets        int
	connected     bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: string(payload)})
	return m.publishErr
}

func (m *MockPublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockPublisher) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	return nil
}

func (m *MockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockPublisher) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockPublisher) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

func (m *MockPublisher) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

func (m *MockPublisher) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscriptions...)
}

// hasPublished reports whether topic was published with payload.
func (m *MockPublisher) hasPublished(topic, payload string) bool {
	for _, p := range m.GetPublished() {
		if p.Topic == topic && p.Payload == payload {
			return true
		}
	}
	return false
}

// countPublished counts publishes to topic.
func (m *MockPublisher) countPublished(topic string) int {
	n := 0
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

type firedTrigger struct {
	Name   string
	Tokens map[string]any
}

// recordingTriggers implements TriggerFirer.
type recordingTriggers struct {
	mu    sync.Mutex
	fired []firedTrigger
}

func (r *recordingTriggers) Fire(_ context.Context, name string, tokens map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, firedTrigger{Name: name, Tokens: tokens})
	return nil
}

func (r *recordingTriggers) named(name string) []firedTrigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []firedTrigger
	for _, f := range r.fired {
		if f.Name == name {
			out = append(out, f)
		}
	}
	return out
}

// recordingObserver collects availability edges.
type recordingObserver struct {
	changes []StatusChange
}

func (o *recordingObserver) observe(ch StatusChange) {
	o.changes = append(o.changes, ch)
}

func newTestRegistry(t *testing.T, records ...*device.Device) *device.Registry {
	t.Helper()
	reg := device.NewRegistry(device.NewMemoryRepository())
	for _, rec := range records {
		if err := reg.CreateDevice(context.Background(), rec); err != nil {
			t.Fatalf("CreateDevice(%s) error = %v", rec.ID, err)
		}
	}
	return reg
}

func genericRecord(id, topic string, swap bool, caps ...string) *device.Device {
	return &device.Device{
		ID:      id,
		Driver:  GenericDriver,
		Address: topic,
		Name:    "Device " + id,
		Settings: device.Settings{
			settingTopic:          topic,
			settingSwapPrefix:     swap,
			settingRelays:         "1",
			settingUpdateInterval: 1,
		},
		Capabilities: append([]string{"switch.1", capOnOff, capSingleSocket}, caps...),
	}
}

func zigbeeRecord(id, topic, shortAddr string, window int, caps ...string) *device.Device {
	return &device.Device{
		ID:      id,
		Driver:  ZigbeeDriver,
		Address: ZigbeeAddress(topic, shortAddr),
		Name:    "Zigbee " + shortAddr,
		Settings: device.Settings{
			settingTopic:          topic,
			settingSwapPrefix:     false,
			settingZigbeeID:       shortAddr,
			settingZigbeeTimeout:  window,
			settingUpdateInterval: 1,
		},
		Capabilities: append([]string{capLastSeen}, caps...),
	}
}

type testDevice struct {
	dev      *Device
	reg      *device.Registry
	pub      *MockPublisher
	clock    *fakeClock
	observer *recordingObserver
}

func newTestDevice(t *testing.T, family Family, rec *device.Device) *testDevice {
	t.Helper()
	reg := newTestRegistry(t, rec)
	td := &testDevice{
		reg:      reg,
		pub:      NewMockPublisher(),
		clock:    newFakeClock(),
		observer: &recordingObserver{},
	}
	stored, err := reg.GetDevice(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	td.dev = NewDevice(DeviceOptions{
		Record:    *stored,
		Kind:      family.NewKind(stored.Settings),
		Host:      reg,
		Publisher: td.pub,
		Clock:     td.clock,
		Observer:  td.observer.observe,
	})
	td.dev.Start()
	return td
}

// msg builds a routed message the way Router.Dispatch does.
func msg(topic, payload string) Message {
	parts := strings.Split(topic, "/")
	return Message{
		Topic:       topic,
		Parts:       parts,
		Payload:     decodePayload([]byte(payload)),
		PrefixFirst: isKind(parts[0]),
	}
}

func testSchema() sensor.Schema { return sensor.DefaultSchema() }

func mustNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
