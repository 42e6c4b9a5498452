package audit

import (
	"context"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Logger is the logging interface used by the sink.
type Logger interface {
	Warn(msg string, args ...any)
}

// ConnectionSink records availability edges. It implements device.ValueSink;
// capability values are not audited.
type ConnectionSink struct {
	repo   Repository
	logger Logger
}

var _ device.ValueSink = (*ConnectionSink)(nil)

// NewConnectionSink creates a sink writing to repo.
func NewConnectionSink(repo Repository, logger Logger) *ConnectionSink {
	return &ConnectionSink{repo: repo, logger: logger}
}

// CapabilityChanged implements device.ValueSink.
func (s *ConnectionSink) CapabilityChanged(context.Context, *device.Device, string, any) {}

// DeviceRemoved implements device.ValueSink. Removals are recorded by the
// API, which knows who asked for them.
func (s *ConnectionSink) DeviceRemoved(context.Context, string) {}

// AvailabilityChanged implements device.ValueSink.
func (s *ConnectionSink) AvailabilityChanged(ctx context.Context, d *device.Device, available bool) {
	details := map[string]any{"available": available}
	if !available && d.UnavailableReason != "" {
		details["reason"] = d.UnavailableReason
	}

	err := s.repo.Create(ctx, &Entry{
		Action:   ActionConnection,
		DeviceID: d.ID,
		Driver:   d.Driver,
		Source:   SourceBridge,
		Details:  details,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("recording connection change failed", "device_id", d.ID, "error", err)
	}
}
