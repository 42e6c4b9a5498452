package tasmota

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Availability machine defaults.
const (
	// DefaultUpdateInterval is the poll period when a device has no
	// update_interval setting.
	DefaultUpdateInterval = time.Minute

	// DefaultAnswerTimeout is how long a command may stay unanswered before
	// an available device is declared unavailable.
	DefaultAnswerTimeout = 40 * time.Second
)

// Unavailable reasons written to the host.
const (
	reasonStartup = "starting up"
	reasonTimeout = "device is not responding"
	reasonOffline = "device reported offline"
	reasonUpdate  = "settings changed, reconnecting"
)

// Settings keys shared by every device family.
const (
	settingTopic          = "mqtt_topic"
	settingSwapPrefix     = "swap_prefix_topic"
	settingUpdateInterval = "update_interval"
)

// DeviceOptions configures a runtime Device.
type DeviceOptions struct {
	Record    device.Device
	Kind      Kind
	Host      Host
	Publisher Publisher
	Clock     Clock
	Logger    Logger
	Observer  StatusObserver
	Metrics   *Metrics
	// Context scopes host writes; defaults to context.Background.
	Context context.Context

	// UpdateInterval is used when the record has no update_interval.
	UpdateInterval time.Duration
	AnswerTimeout  time.Duration
}

// Device is the runtime half of a paired device: its topic layout and the
// availability machine.
//
// stage moves between init, available and unavailable. answerTimeout is
// zero when no command is pending and is only evaluated while available.
type Device struct {
	id     string
	name   string
	driver string

	topic    string
	swap     bool
	settings device.Settings

	kind      Kind
	host      Host
	publisher Publisher
	clock     Clock
	logger    Logger
	observer  StatusObserver
	metrics   *Metrics
	ctx       context.Context

	stage           Stage
	nextRequest     time.Time
	answerTimeout   time.Time
	updateInterval  time.Duration
	defaultInterval time.Duration
	timeoutInterval time.Duration
	lastSeen        time.Time
}

// NewDevice creates a runtime device in the init stage with its first poll
// due immediately. Call Start to announce it to the host.
func NewDevice(opts DeviceOptions) *Device {
	d := &Device{
		id:              opts.Record.ID,
		name:            opts.Record.Name,
		kind:            opts.Kind,
		host:            opts.Host,
		publisher:       opts.Publisher,
		clock:           opts.Clock,
		logger:          opts.Logger,
		observer:        opts.Observer,
		metrics:         opts.Metrics,
		ctx:             opts.Context,
		defaultInterval: opts.UpdateInterval,
		timeoutInterval: opts.AnswerTimeout,
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
	if d.defaultInterval <= 0 {
		d.defaultInterval = DefaultUpdateInterval
	}
	if d.timeoutInterval <= 0 {
		d.timeoutInterval = DefaultAnswerTimeout
	}
	if d.kind != nil {
		d.driver = d.kind.Name()
	}
	d.logger = withFields(d.logger, "device_id", d.id)

	d.applySettings(opts.Record.Settings)
	d.stage = StageInit
	d.nextRequest = d.clock.Now()
	return d
}

func (d *Device) applySettings(settings device.Settings) {
	d.settings = settings
	d.topic = settings.String(settingTopic)
	d.swap = settings.Bool(settingSwapPrefix)
	d.updateInterval = d.defaultInterval
	if minutes := settings.Int(settingUpdateInterval, 0); minutes > 0 {
		d.updateInterval = time.Duration(minutes) * time.Minute
	}
}

// Start marks the device unavailable in the host until its first reply and
// sends the first poll.
func (d *Device) Start() {
	d.logger.Info("device initialised",
		"name", d.name,
		"topic", d.topic,
		"swap_prefix_topic", d.swap,
		"update_interval", d.updateInterval,
	)
	d.invalidate(reasonStartup)
}

// ID returns the device id.
func (d *Device) ID() string { return d.id }

// Name returns the display name.
func (d *Device) Name() string { return d.name }

// Topic returns the device topic.
func (d *Device) Topic() string { return d.topic }

// SwapPrefixTopic reports whether the device uses the <topic>/<kind> layout.
func (d *Device) SwapPrefixTopic() bool { return d.swap }

// Settings returns the device settings. Callers must not modify them.
func (d *Device) Settings() device.Settings { return d.settings }

// Stage returns the availability stage.
func (d *Device) Stage() Stage { return d.stage }

// NextRequest returns when the next poll is due.
func (d *Device) NextRequest() time.Time { return d.nextRequest }

// AnswerTimeout returns the pending reply deadline, zero when none.
func (d *Device) AnswerTimeout() time.Time { return d.answerTimeout }

// LastSeen returns the last confirmed liveness, zero when unknown.
func (d *Device) LastSeen() time.Time { return d.lastSeen }

// ScheduleNow makes the next poll due immediately.
func (d *Device) ScheduleNow() {
	d.nextRequest = d.clock.Now()
}

// SendCommand publishes a command in the device's topic layout (QoS 0, not
// retained) and arms the answer timeout. An already armed timeout is only
// ever moved earlier.
func (d *Device) SendCommand(command, payload string) error {
	err := d.publishCommand(command, payload)

	deadline := d.clock.Now().Add(d.timeoutInterval)
	if d.answerTimeout.IsZero() || deadline.Before(d.answerTimeout) {
		d.answerTimeout = deadline
	}
	return err
}

// send is SendCommand for callers that only need the failure logged.
func (d *Device) send(command, payload string) {
	_ = d.SendCommand(command, payload)
}

// publish sends a command without arming the answer timeout.
func (d *Device) publish(command, payload string) {
	_ = d.publishCommand(command, payload)
}

func (d *Device) publishCommand(command, payload string) error {
	topic := CommandTopic(d.topic, d.swap, command)
	err := d.publisher.Publish(topic, []byte(payload), 0, false)
	d.metrics.commandSent(d.driver, err)
	if err != nil {
		d.logger.Warn("sending command failed", "topic", topic, "error", err)
		return fmt.Errorf("sending %s to %s: %w", command, d.topic, err)
	}
	d.logger.Debug("command sent", "topic", topic, "payload", payload)
	return nil
}

// CheckStatus runs the kind's status check at the current time.
func (d *Device) CheckStatus() error {
	return d.kind.CheckStatus(d, d.clock.Now())
}

// checkSchedule applies the base rules: an expired answer timeout makes an
// available device unavailable, and a due poll is sent whatever the stage.
func (d *Device) checkSchedule(now time.Time) {
	if d.stage == StageAvailable && !d.answerTimeout.IsZero() && !now.Before(d.answerTimeout) {
		d.setStage(StageUnavailable)
		d.answerTimeout = time.Time{}
		d.invalidate(reasonTimeout)
	}
	if !now.Before(d.nextRequest) {
		d.nextRequest = now.Add(d.updateInterval)
		d.kind.DefaultPoll(d)
	}
}

// HandleMessage applies a routed message to the device.
//
// Messages in the other topic layout and topics shorter than three segments
// are ignored. An LWT Offline notice makes the device unavailable and
// re-polls it. Otherwise an available device has its poll schedule reset and
// its pending timeout cleared before the kind decodes the payload.
func (d *Device) HandleMessage(msg Message) error {
	if d.swap == msg.PrefixFirst {
		return nil
	}
	if len(msg.Parts) < 3 {
		return nil
	}

	if isOfflineNotice(msg) {
		d.goOffline()
		return nil
	}

	if d.stage == StageAvailable {
		d.nextRequest = d.clock.Now().Add(d.updateInterval)
		d.answerTimeout = time.Time{}
	}

	if err := d.kind.ProcessMessage(d, msg); err != nil {
		return fmt.Errorf("device %s: %w", d.id, err)
	}
	return nil
}

// isOfflineNotice reports whether msg is an LWT Offline message.
func isOfflineNotice(msg Message) bool {
	if msg.Segment(2) != lwtSuffix {
		return false
	}
	text, ok := msg.Text()
	return ok && text == payloadOffline
}

func (d *Device) goOffline() {
	d.setStage(StageUnavailable)
	d.answerTimeout = time.Time{}
	d.lastSeen = time.Time{}
	d.invalidate(reasonOffline)
	d.nextRequest = d.clock.Now().Add(d.updateInterval)
}

// Reconfigure applies updated settings. A change of topic, layout or any
// kind-specific identity setting restarts the machine from init with an
// immediate poll.
func (d *Device) Reconfigure(settings device.Settings, changed []string) {
	d.applySettings(settings)

	reset := slices.Contains(changed, settingTopic) || slices.Contains(changed, settingSwapPrefix)
	if d.kind.Configure(d, settings, changed) {
		reset = true
	}
	if !reset {
		return
	}

	d.logger.Info("device identity changed", "topic", d.topic, "swap_prefix_topic", d.swap)
	d.setStage(StageInit)
	d.lastSeen = time.Time{}
	d.answerTimeout = time.Time{}
	d.nextRequest = d.clock.Now()
	d.invalidate(reasonUpdate)
}

// SetCapability translates a host capability write into a device command.
func (d *Device) SetCapability(capability string, value any) error {
	c, ok := d.kind.(Commander)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedCapability, capability, d.driver)
	}
	return c.Command(d, capability, value)
}

func (d *Device) setStage(stage Stage) {
	if d.stage == stage {
		return
	}
	old := d.stage
	d.stage = stage
	d.logger.Info("device status changed", "from", old.String(), "to", stage.String())

	var available bool
	switch {
	case old == StageUnavailable && stage == StageAvailable:
		available = true
	case old == StageAvailable && stage == StageUnavailable:
		available = false
	default:
		return
	}
	d.metrics.transition(d.driver, available)
	if d.observer != nil {
		d.observer(StatusChange{Driver: d.driver, Name: d.name, DeviceID: d.id, Status: available})
	}
}

// markAvailable moves the device to available and tells the host. The
// pending timeout is cleared since the device has just answered.
func (d *Device) markAvailable() {
	if d.stage == StageAvailable {
		return
	}
	d.answerTimeout = time.Time{}
	d.setStage(StageAvailable)
	if err := d.host.SetAvailable(d.ctx, d.id); err != nil {
		d.logger.Warn("marking device available failed", "error", err)
	}
}

// invalidate marks the device unreachable in the host and polls it.
func (d *Device) invalidate(reason string) {
	if err := d.host.SetUnavailable(d.ctx, d.id, reason); err != nil {
		d.logger.Warn("marking device unavailable failed", "reason", reason, "error", err)
	}
	d.kind.DefaultPoll(d)
}

// updateCapability writes value when the device has the capability and
// reports whether the stored value changed.
func (d *Device) updateCapability(capability string, value any) bool {
	if value == nil || !d.host.HasCapability(d.id, capability) {
		return false
	}
	changed, err := d.host.SetCapabilityValue(d.ctx, d.id, capability, value)
	if err != nil {
		d.logger.Warn("updating capability failed", "capability", capability, "error", err)
		return false
	}
	return changed
}
