package tasmota

import (
	"context"
	"slices"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Kind is the per-device behaviour of a device family. The Device runs the
// shared availability machine and delegates polling, message decoding and
// the status check to its Kind.
type Kind interface {
	// Name is the driver name the kind belongs to.
	Name() string

	// DefaultPoll sends the status request used for liveness polling.
	DefaultPoll(d *Device)

	// Accepts reports whether msg, already matched on the device topic,
	// belongs to d. Kinds whose devices share one topic filter here.
	Accepts(d *Device, msg Message) bool

	// ProcessMessage decodes a message that passed the layout, offline and
	// schedule rules.
	ProcessMessage(d *Device, msg Message) error

	// CheckStatus evaluates timeouts and poll schedule at now.
	CheckStatus(d *Device, now time.Time) error

	// Configure applies changed settings and reports whether the device's
	// identity changed, which restarts the availability machine.
	Configure(d *Device, settings device.Settings, changed []string) bool
}

// Commander is implemented by kinds that translate host capability writes
// into device commands.
type Commander interface {
	Command(d *Device, capability string, value any) error
}

// Host is the device store the bridge writes into. *device.Registry
// satisfies it.
type Host interface {
	HasCapability(id, capability string) bool
	CapabilityValue(id, capability string) (any, bool)
	SetCapabilityValue(ctx context.Context, id, capability string, value any) (bool, error)
	AddCapability(ctx context.Context, id, capability string) error
	SetAvailable(ctx context.Context, id string) error
	SetUnavailable(ctx context.Context, id, reason string) error
}

// Publisher sends MQTT messages. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the logging interface used throughout the package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// fieldLogger prefixes every record with fixed attributes.
type fieldLogger struct {
	Logger
	fields []any
}

func withFields(l Logger, fields ...any) Logger {
	return fieldLogger{Logger: l, fields: fields}
}

func (l fieldLogger) with(args []any) []any {
	return append(slices.Clip(l.fields), args...)
}

func (l fieldLogger) Debug(msg string, args ...any) { l.Logger.Debug(msg, l.with(args)...) }
func (l fieldLogger) Info(msg string, args ...any)  { l.Logger.Info(msg, l.with(args)...) }
func (l fieldLogger) Warn(msg string, args ...any)  { l.Logger.Warn(msg, l.with(args)...) }
func (l fieldLogger) Error(msg string, args ...any) { l.Logger.Error(msg, l.with(args)...) }

// Stage is the availability state of a runtime device.
type Stage int

const (
	StageInit Stage = iota
	StageAvailable
	StageUnavailable
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageAvailable:
		return "available"
	case StageUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// StatusChange is delivered to the StatusObserver on available/unavailable
// edges. Leaving or entering init is never reported.
type StatusChange struct {
	Driver   string
	Name     string
	DeviceID string
	Status   bool
}

// StatusObserver receives availability edges.
type StatusObserver func(StatusChange)
