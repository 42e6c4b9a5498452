package tasmota

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/mqtt"
)

// Bridge defaults.
const (
	DefaultTickInterval     = time.Second
	DefaultWatchdogTimeout  = 10 * time.Minute
	DefaultWatchdogInterval = time.Minute

	defaultQueueSize = 256

	// brokerUptimeTopic is published by Mosquitto roughly every ten seconds
	// and keeps the watchdog fed while devices are quiet.
	brokerUptimeTopic = "$SYS/broker/uptime"
)

// ErrorPolicy decides what happens to per-device processing errors.
type ErrorPolicy int

const (
	// PolicyLog logs the error and carries on.
	PolicyLog ErrorPolicy = iota
	// PolicyPropagate returns the error to the transport handler, which
	// logs it at error level with the topic. Used in debug mode.
	PolicyPropagate
)

func (p ErrorPolicy) String() string {
	if p == PolicyPropagate {
		return "propagate"
	}
	return "log"
}

// Transport is the MQTT connection the bridge runs on. *mqtt.Client
// satisfies it.
type Transport interface {
	Publisher
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Reset() error
	IsConnected() bool
}

// Options configures a Bridge.
type Options struct {
	Transport Transport
	Drivers   []*Driver
	Clock     Clock
	Logger    Logger
	Metrics   *Metrics
	Policy    ErrorPolicy
	QoS       byte

	TickInterval     time.Duration
	WatchdogTimeout  time.Duration
	WatchdogInterval time.Duration
	QueueSize        int
}

type inbound struct {
	topic   string
	payload []byte
	result  chan error
}

type call struct {
	fn   func() error
	done chan error
}

// Bridge runs the router, the drivers and the watchdog on a single
// goroutine. MQTT callbacks and API calls are queued to it.
//
// Thread Safety: HandleMessage, Connected and Do are safe for concurrent
// use. Everything else runs on the Run goroutine.
type Bridge struct {
	transport Transport
	router    *Router
	drivers   []*Driver
	clock     Clock
	logger    Logger
	metrics   *Metrics
	policy    ErrorPolicy
	qos       byte

	tickInterval     time.Duration
	watchdogTimeout  time.Duration
	watchdogInterval time.Duration

	inbox   chan inbound
	calls   chan call
	stopped chan struct{}
}

// New creates a bridge over the given drivers.
func New(opts Options) (*Bridge, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if len(opts.Drivers) == 0 {
		return nil, fmt.Errorf("at least one driver is required")
	}

	b := &Bridge{
		transport:        opts.Transport,
		drivers:          opts.Drivers,
		clock:            opts.Clock,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		policy:           opts.Policy,
		qos:              opts.QoS,
		tickInterval:     opts.TickInterval,
		watchdogTimeout:  opts.WatchdogTimeout,
		watchdogInterval: opts.WatchdogInterval,
		stopped:          make(chan struct{}),
	}
	if b.clock == nil {
		b.clock = SystemClock()
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.tickInterval <= 0 {
		b.tickInterval = DefaultTickInterval
	}
	if b.watchdogTimeout <= 0 {
		b.watchdogTimeout = DefaultWatchdogTimeout
	}
	if b.watchdogInterval <= 0 {
		b.watchdogInterval = DefaultWatchdogInterval
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	b.inbox = make(chan inbound, size)
	b.calls = make(chan call)

	b.router = NewRouter(b.clock, b.metrics)
	for _, d := range b.drivers {
		b.router.AddTarget(d)
	}
	return b, nil
}

// Router returns the bridge's router.
func (b *Bridge) Router() *Router { return b.router }

// Run processes messages, ticks and calls until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.stopped)

	for _, d := range b.drivers {
		d.Load()
	}

	ticker := time.NewTicker(b.tickInterval)
	defer ticker.Stop()
	watchdog := time.NewTicker(b.watchdogInterval)
	defer watchdog.Stop()

	b.logger.Info("bridge running", "drivers", len(b.drivers), "policy", b.policy.String())
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopping")
			return nil
		case m := <-b.inbox:
			err := b.route(m.topic, m.payload)
			if m.result != nil {
				m.result <- err
			}
		case c := <-b.calls:
			c.done <- c.fn()
		case <-ticker.C:
			b.tick()
		case <-watchdog.C:
			b.checkWatchdog()
		}
	}
}

// HandleMessage is the transport callback. Under PolicyPropagate it waits
// for the message to be processed and returns its error.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	m := inbound{topic: topic, payload: payload}
	if b.policy == PolicyPropagate {
		m.result = make(chan error, 1)
	}

	select {
	case b.inbox <- m:
	case <-b.stopped:
		return ErrBridgeStopped
	}
	if m.result == nil {
		return nil
	}
	select {
	case err := <-m.result:
		return err
	case <-b.stopped:
		return ErrBridgeStopped
	}
}

// Do runs fn on the bridge goroutine and returns its error.
func (b *Bridge) Do(ctx context.Context, fn func() error) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case b.calls <- c:
	case <-b.stopped:
		return ErrBridgeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected subscribes to the device and broker topics and schedules an
// immediate poll of every device. Register it as the transport's
// on-connect callback; it also runs after every reconnect.
func (b *Bridge) Connected() {
	topics := append([]string{brokerUptimeTopic}, SubscriptionTopics()...)
	for _, t := range topics {
		if err := b.transport.Subscribe(t, b.qos, b.HandleMessage); err != nil {
			b.logger.Error("subscribing failed", "topic", t, "error", err)
		}
	}

	go func() {
		err := b.Do(context.Background(), func() error {
			b.onConnected()
			return nil
		})
		if err != nil && !errors.Is(err, ErrBridgeStopped) {
			b.logger.Warn("scheduling device refresh failed", "error", err)
		}
	}()
}

func (b *Bridge) onConnected() {
	b.router.MarkAlive()
	for _, d := range b.drivers {
		d.ScheduleAll()
		if err := d.CheckDevices(); err != nil {
			b.handleError("device check failed", err)
		}
	}
	b.logger.Info("transport connected, devices refreshed")
}

func (b *Bridge) route(topic string, payload []byte) error {
	err := b.router.Dispatch(topic, payload)
	if err == nil {
		return nil
	}
	if b.policy == PolicyPropagate {
		return err
	}
	b.logger.Warn("message handling failed", "topic", topic, "error", err)
	return nil
}

func (b *Bridge) tick() {
	now := b.clock.Now()
	for _, d := range b.drivers {
		if err := d.Tick(now); err != nil {
			b.handleError("device check failed", err)
		}
	}
}

func (b *Bridge) handleError(msg string, err error) {
	if b.policy == PolicyPropagate {
		b.logger.Error(msg, "error", err)
		return
	}
	b.logger.Warn(msg, "error", err)
}

// checkWatchdog resets the transport when nothing has arrived for longer
// than the watchdog timeout. The reset runs off the loop; the reconnect
// calls Connected again.
func (b *Bridge) checkWatchdog() {
	last := b.router.LastMessage()
	if last.IsZero() || b.clock.Now().Sub(last) <= b.watchdogTimeout {
		return
	}
	b.logger.Warn("no MQTT traffic, resetting connection", "last_message", last)
	b.router.ResetLastMessage()
	b.metrics.watchdogReset()
	go func() {
		if err := b.transport.Reset(); err != nil {
			b.logger.Error("resetting MQTT connection failed", "error", err)
		}
	}()
}

// Driver returns the driver registered under name. Call it from Do.
func (b *Bridge) Driver(name string) (*Driver, error) {
	for _, d := range b.drivers {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, name)
}

// DriverNames lists the registered drivers.
func (b *Bridge) DriverNames() []string {
	names := make([]string, len(b.drivers))
	for i, d := range b.drivers {
		names[i] = d.Name()
	}
	return names
}

func (b *Bridge) deviceDriver(id string) (*Driver, error) {
	for _, d := range b.drivers {
		if _, ok := d.Device(id); ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// StartPairing starts a discovery session on driver. It fails with
// ErrTransportUnavailable while the broker is disconnected, since the
// probes would go nowhere.
func (b *Bridge) StartPairing(ctx context.Context, driver string) (*PairingSession, error) {
	var s *PairingSession
	err := b.Do(ctx, func() error {
		d, err := b.Driver(driver)
		if err != nil {
			return err
		}
		if !b.transport.IsConnected() {
			return ErrTransportUnavailable
		}
		s = d.StartPairing()
		return nil
	})
	return s, err
}

// Pairing returns the driver's session together with its discovery result.
// The result error is ErrPairingInProgress until the session converged.
func (b *Bridge) Pairing(ctx context.Context, driver string) (*PairingSession, error) {
	var s *PairingSession
	err := b.Do(ctx, func() error {
		d, err := b.Driver(driver)
		if err != nil {
			return err
		}
		if s, err = d.Pairing(); err != nil {
			return err
		}
		_, err = d.PairingResult()
		return err
	})
	return s, err
}

// StopPairing abandons the driver's session.
func (b *Bridge) StopPairing(ctx context.Context, driver string) error {
	return b.Do(ctx, func() error {
		d, err := b.Driver(driver)
		if err != nil {
			return err
		}
		d.StopPairing()
		return nil
	})
}

// CreateDevices persists descriptors of the driver's converged session.
func (b *Bridge) CreateDevices(ctx context.Context, driver string, ids []string) ([]device.Device, error) {
	var created []device.Device
	err := b.Do(ctx, func() error {
		d, err := b.Driver(driver)
		if err != nil {
			return err
		}
		created, err = d.CreateDevices(ids)
		return err
	})
	return created, err
}

// SetCapability sends the command for a host capability write.
func (b *Bridge) SetCapability(ctx context.Context, id, capability string, value any) error {
	return b.Do(ctx, func() error {
		d, err := b.deviceDriver(id)
		if err != nil {
			return err
		}
		return d.SetCapability(id, capability, value)
	})
}

// ApplySettings pushes persisted settings changes into the runtime device.
func (b *Bridge) ApplySettings(ctx context.Context, id string, settings device.Settings, changed []string) error {
	return b.Do(ctx, func() error {
		d, err := b.deviceDriver(id)
		if err != nil {
			return err
		}
		return d.Reconfigure(id, settings, changed)
	})
}

// DefaultIcon returns the icon the device's family picks for settings.
func (b *Bridge) DefaultIcon(ctx context.Context, id string) (string, error) {
	var icon string
	err := b.Do(ctx, func() error {
		d, err := b.deviceDriver(id)
		if err != nil {
			return err
		}
		dev, _ := d.Device(id)
		icon = d.Family().DefaultIcon(dev.Settings())
		return nil
	})
	return icon, err
}

// Address returns the routing address driver derives from settings. The
// driver list is fixed at construction, so this does not go through Do.
func (b *Bridge) Address(driver string, settings device.Settings) (string, error) {
	d, err := b.Driver(driver)
	if err != nil {
		return "", err
	}
	return d.Family().Address(settings), nil
}

// RemoveDevice stops the runtime device. Unknown ids are ignored.
func (b *Bridge) RemoveDevice(ctx context.Context, id string) error {
	return b.Do(ctx, func() error {
		for _, d := range b.drivers {
			if d.RemoveDevice(id) {
				return nil
			}
		}
		return nil
	})
}

// DeviceStage reports the availability stage of a runtime device.
func (b *Bridge) DeviceStage(ctx context.Context, id string) (Stage, error) {
	var stage Stage
	err := b.Do(ctx, func() error {
		d, err := b.deviceDriver(id)
		if err != nil {
			return err
		}
		dev, _ := d.Device(id)
		stage = dev.Stage()
		return nil
	})
	return stage, err
}

// Status summarises the bridge for health checks.
type Status struct {
	Connected   bool           `json:"connected"`
	LastMessage time.Time      `json:"last_message,omitzero"`
	Devices     map[string]int `json:"devices"`
	Pairing     []string       `json:"pairing,omitempty"`
}

// Status reports connection state, device counts and active pairings.
func (b *Bridge) Status(ctx context.Context) (Status, error) {
	st := Status{Connected: b.transport.IsConnected(), Devices: make(map[string]int)}
	err := b.Do(ctx, func() error {
		st.LastMessage = b.router.LastMessage()
		for _, d := range b.drivers {
			st.Devices[d.Name()] = len(d.devices)
			if d.session != nil && !d.session.Done {
				st.Pairing = append(st.Pairing, d.Name())
			}
		}
		slices.Sort(st.Pairing)
		return nil
	})
	return st, err
}
