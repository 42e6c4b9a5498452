package tasmota

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Trigger names fired by drivers.
const (
	TriggerConnectionChanged = "device_connection_changed"
	TriggerLastSeenChanged   = "measure_last_seen_changed"
)

// Driver defaults.
const (
	DefaultCheckInterval         = 30 * time.Second
	DefaultStabilizationInterval = 2 * time.Second

	// DefaultPairingTimeout bounds a session that never converges because
	// no device replied.
	DefaultPairingTimeout = 30 * time.Second
)

// DefaultGroupTopics are the Tasmota group topics probed when pairing starts.
var DefaultGroupTopics = []string{"sonoffs", "tasmotas"}

// Registry is the host store a Driver loads devices from and creates them
// in. *device.Registry satisfies it.
type Registry interface {
	Host
	ListByDriver(ctx context.Context, driver string) []device.Device
	CreateDevice(ctx context.Context, d *device.Device) error
	AddressInUse(driver, address string) bool
}

// TriggerFirer fires host flow triggers. The driver calls it on the bridge
// loop, so it should not block; *trigger.Queue satisfies it.
type TriggerFirer interface {
	Fire(ctx context.Context, name string, tokens map[string]any) error
}

// lastSeenSource is implemented by families reporting measure_last_seen.
type lastSeenSource interface {
	SetLastSeenObserver(fn LastSeenObserver)
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	Family    Family
	Registry  Registry
	Publisher Publisher

	// Triggers is optional; without it availability edges are only logged.
	Triggers TriggerFirer
	Clock    Clock
	Logger   Logger
	Metrics  *Metrics
	Context  context.Context

	CheckInterval         time.Duration
	StabilizationInterval time.Duration
	PairingTimeout        time.Duration
	AnswerTimeout         time.Duration
	GroupTopics           []string
	Defaults              DescribeDefaults
}

// PairingSession is the state of one discovery run.
type PairingSession struct {
	ID        string       `json:"id"`
	Driver    string       `json:"driver"`
	StartedAt time.Time    `json:"started_at"`
	Done      bool         `json:"done"`
	Devices   []Descriptor `json:"devices,omitempty"`

	err error
}

// Err returns the discovery outcome once the session is done.
func (s *PairingSession) Err() error { return s.err }

// Driver owns the runtime devices of one family, routes messages to them,
// runs their periodic status checks and the family's pairing sessions.
type Driver struct {
	family    Family
	registry  Registry
	publisher Publisher
	triggers  TriggerFirer
	clock     Clock
	logger    Logger
	metrics   *Metrics
	ctx       context.Context

	checkInterval         time.Duration
	stabilizationInterval time.Duration
	pairingTimeout        time.Duration
	answerTimeout         time.Duration
	groupTopics           []string
	defaults              DescribeDefaults

	devices         []*Device
	collector       *Collector
	session         *PairingSession
	nextCheck       time.Time
	nextProbe       time.Time
	pairingDeadline time.Time
}

// NewDriver creates a driver. Call Load to start the paired devices.
func NewDriver(opts DriverOptions) *Driver {
	d := &Driver{
		family:                opts.Family,
		registry:              opts.Registry,
		publisher:             opts.Publisher,
		triggers:              opts.Triggers,
		clock:                 opts.Clock,
		logger:                opts.Logger,
		metrics:               opts.Metrics,
		ctx:                   opts.Context,
		checkInterval:         opts.CheckInterval,
		stabilizationInterval: opts.StabilizationInterval,
		pairingTimeout:        opts.PairingTimeout,
		answerTimeout:         opts.AnswerTimeout,
		groupTopics:           opts.GroupTopics,
		defaults:              opts.Defaults,
	}
	if d.clock == nil {
		d.clock = SystemClock()
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.ctx == nil {
		d.ctx = context.Background()
	}
	if d.checkInterval <= 0 {
		d.checkInterval = DefaultCheckInterval
	}
	if d.stabilizationInterval <= 0 {
		d.stabilizationInterval = DefaultStabilizationInterval
	}
	if d.pairingTimeout <= 0 {
		d.pairingTimeout = DefaultPairingTimeout
	}
	if len(d.groupTopics) == 0 {
		d.groupTopics = DefaultGroupTopics
	}
	d.logger = withFields(d.logger, "driver", d.family.Name())
	d.collector = NewCollector(d.probeDevice)
	d.nextCheck = d.clock.Now().Add(d.checkInterval)

	if src, ok := d.family.(lastSeenSource); ok {
		src.SetLastSeenObserver(d.onLastSeen)
	}
	return d
}

// Name returns the driver name.
func (d *Driver) Name() string { return d.family.Name() }

// Family returns the driver's device family.
func (d *Driver) Family() Family { return d.family }

// Load starts a runtime device for every paired device of this driver.
func (d *Driver) Load() {
	for _, rec := range d.registry.ListByDriver(d.ctx, d.Name()) {
		d.AddDevice(rec)
	}
	d.logger.Info("driver loaded", "devices", len(d.devices))
}

// AddDevice starts a runtime device for a paired record.
func (d *Driver) AddDevice(rec device.Device) *Device {
	dev := NewDevice(DeviceOptions{
		Record:         rec,
		Kind:           d.family.NewKind(rec.Settings),
		Host:           d.registry,
		Publisher:      d.publisher,
		Clock:          d.clock,
		Logger:         d.logger,
		Observer:       d.onStatusChange,
		Metrics:        d.metrics,
		Context:        d.ctx,
		UpdateInterval: time.Duration(d.defaults.UpdateInterval) * time.Minute,
		AnswerTimeout:  d.answerTimeout,
	})
	d.devices = append(d.devices, dev)
	d.family.Register(dev)
	dev.Start()
	return dev
}

// RemoveDevice stops tracking a device. It reports whether it was known.
func (d *Driver) RemoveDevice(id string) bool {
	i := slices.IndexFunc(d.devices, func(dev *Device) bool { return dev.ID() == id })
	if i < 0 {
		return false
	}
	d.devices = slices.Delete(d.devices, i, i+1)
	return true
}

// Device returns the runtime device with id.
func (d *Driver) Device(id string) (*Device, bool) {
	for _, dev := range d.devices {
		if dev.ID() == id {
			return dev, true
		}
	}
	return nil, false
}

// Devices returns the runtime devices in load order.
func (d *Driver) Devices() []*Device {
	return slices.Clone(d.devices)
}

// Route implements Target. The message is offered to an active pairing
// session, then handed to the first device whose topic matches and whose
// kind accepts it. Topics are unique per driver, so the first match is the
// only one for generic devices. An LWT Offline notice goes to every device
// on the topic: zigbee devices share their coordinator's topic.
func (d *Driver) Route(msg Message) error {
	d.collector.Observe(msg)

	topic := msg.DeviceTopic()
	broadcast := isOfflineNotice(msg)
	var errs []error
	for _, dev := range d.devices {
		if dev.Topic() != topic || !dev.kind.Accepts(dev, msg) {
			continue
		}
		if err := dev.HandleMessage(msg); err != nil {
			d.metrics.handlerError(d.Name())
			errs = append(errs, err)
		}
		if !broadcast {
			break
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", d.Name(), err)
	}
	return nil
}

// Tick runs whatever is due at now: a stabilization sample of the pairing
// session and the periodic device status check. A session still collecting
// at its deadline is finished with whatever it has.
func (d *Driver) Tick(now time.Time) error {
	if d.collector.Active() && !now.Before(d.nextProbe) {
		d.nextProbe = now.Add(d.stabilizationInterval)
		if d.collector.Sample() || !now.Before(d.pairingDeadline) {
			d.finishPairing()
		}
	}
	if !now.Before(d.nextCheck) {
		d.nextCheck = now.Add(d.checkInterval)
		return d.CheckDevices()
	}
	return nil
}

// CheckDevices runs the status check of every device.
func (d *Driver) CheckDevices() error {
	var errs []error
	counts := make(map[Stage]int)
	for _, dev := range d.devices {
		if err := dev.CheckStatus(); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", dev.ID(), err))
		}
		counts[dev.Stage()]++
	}
	d.metrics.setDeviceStages(d.Name(), counts)
	return errors.Join(errs...)
}

// ScheduleAll makes every device's next poll due now.
func (d *Driver) ScheduleAll() {
	for _, dev := range d.devices {
		dev.ScheduleNow()
	}
}

// StartPairing starts a new discovery session, replacing any previous one,
// and probes the group topics in both layouts.
func (d *Driver) StartPairing() *PairingSession {
	now := d.clock.Now()
	d.session = &PairingSession{
		ID:        uuid.NewString(),
		Driver:    d.Name(),
		StartedAt: now,
	}

	ignore := d.family.IgnoreTopics(d.registry.ListByDriver(d.ctx, d.Name()))
	d.collector.StartSession(ignore)
	d.nextProbe = now.Add(d.stabilizationInterval)
	d.pairingDeadline = now.Add(d.pairingTimeout)

	cmd, payload := d.family.Probe()
	for _, group := range d.groupTopics {
		d.publishRaw(CommandTopic(group, false, cmd), payload)
		d.publishRaw(CommandTopic(group, true, cmd), payload)
	}
	d.logger.Info("pairing started", "session_id", d.session.ID, "ignored_topics", ignore)
	return d.snapshot()
}

// Pairing returns the current session.
func (d *Driver) Pairing() (*PairingSession, error) {
	if d.session == nil {
		return nil, ErrNoPairingSession
	}
	return d.snapshot(), nil
}

// PairingResult returns the discovered devices once the session converged.
// It returns ErrPairingInProgress while collecting, and ErrNoMessages or
// ErrNoNewDevices when nothing was found.
func (d *Driver) PairingResult() ([]Descriptor, error) {
	if d.session == nil {
		return nil, ErrNoPairingSession
	}
	if !d.session.Done {
		return nil, ErrPairingInProgress
	}
	if d.session.err != nil {
		return nil, d.session.err
	}
	return slices.Clone(d.session.Devices), nil
}

// StopPairing abandons the session. Nothing collected is kept.
func (d *Driver) StopPairing() {
	if d.session == nil {
		return
	}
	d.collector.Abort()
	d.logger.Info("pairing stopped", "session_id", d.session.ID)
	d.session = nil
}

// CreateDevices persists the selected descriptors of a converged session
// and starts them. An empty ids list selects every descriptor. Descriptors
// that fail to persist are reported and left in the session.
func (d *Driver) CreateDevices(ids []string) ([]device.Device, error) {
	if _, err := d.PairingResult(); err != nil {
		return nil, err
	}

	var created []device.Device
	var errs []error
	remaining := d.session.Devices[:0:0]
	for _, desc := range d.session.Devices {
		if len(ids) > 0 && !slices.Contains(ids, desc.ID) {
			remaining = append(remaining, desc)
			continue
		}
		rec := desc.Device(d.Name())
		if err := d.registry.CreateDevice(d.ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("creating %s: %w", desc.ID, err))
			remaining = append(remaining, desc)
			continue
		}
		d.AddDevice(*rec)
		created = append(created, *rec)
	}
	d.session.Devices = remaining
	return created, errors.Join(errs...)
}

func (d *Driver) finishPairing() {
	records := d.collector.Finish()

	var found []Descriptor
	for _, rec := range records {
		for _, desc := range d.family.Describe(rec, d.defaults) {
			if d.registry.AddressInUse(d.Name(), desc.Address) {
				continue
			}
			found = append(found, desc)
		}
	}

	d.session.Done = true
	d.session.Devices = found
	if len(found) == 0 {
		if d.collector.MessageCount() == 0 {
			d.session.err = ErrNoMessages
		} else {
			d.session.err = ErrNoNewDevices
		}
	}
	d.metrics.pairingFinished(d.Name(), d.session.err)
	d.logger.Info("pairing finished",
		"session_id", d.session.ID,
		"messages", d.collector.MessageCount(),
		"topics", len(records),
		"devices", len(found),
	)
}

func (d *Driver) snapshot() *PairingSession {
	s := *d.session
	s.Devices = slices.Clone(d.session.Devices)
	return &s
}

// probeDevice asks a device that came online for its full status.
func (d *Driver) probeDevice(topic string, swap bool) {
	cmd, payload := d.family.Probe()
	d.publishRaw(CommandTopic(topic, swap, cmd), payload)
}

func (d *Driver) publishRaw(topic, payload string) {
	err := d.publisher.Publish(topic, []byte(payload), 0, false)
	d.metrics.commandSent(d.Name(), err)
	if err != nil {
		d.logger.Warn("publishing probe failed", "topic", topic, "error", err)
	}
}

// Reconfigure applies changed settings to a runtime device.
func (d *Driver) Reconfigure(id string, settings device.Settings, changed []string) error {
	dev, ok := d.Device(id)
	if !ok {
		return ErrDeviceNotFound
	}
	dev.Reconfigure(settings, changed)
	return nil
}

// SetCapability sends the command for a host capability write.
func (d *Driver) SetCapability(id, capability string, value any) error {
	dev, ok := d.Device(id)
	if !ok {
		return ErrDeviceNotFound
	}
	return dev.SetCapability(capability, value)
}

func (d *Driver) onStatusChange(ch StatusChange) {
	d.logger.Info("device connection changed", "device_id", ch.DeviceID, "status", ch.Status)
	d.fire(TriggerConnectionChanged, map[string]any{
		"name":      ch.Name,
		"device_id": ch.DeviceID,
		"status":    ch.Status,
	})
}

func (d *Driver) onLastSeen(dev *Device, seconds int64) {
	d.fire(TriggerLastSeenChanged, map[string]any{
		"device_id": dev.ID(),
		"name":      dev.Name(),
		"value":     seconds,
	})
}

func (d *Driver) fire(name string, tokens map[string]any) {
	if d.triggers == nil {
		return
	}
	if err := d.triggers.Fire(d.ctx, name, tokens); err != nil {
		d.logger.Warn("firing trigger failed", "trigger", name, "error", err)
	}
}
