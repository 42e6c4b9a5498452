package main

import (
	"context"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/statecache"
)

// availableField is the state cache field holding device availability.
const availableField = "available"

// influxWriter is the part of *influxdb.Client the sink uses.
type influxWriter interface {
	WriteCapability(deviceID, driver, capability string, value any) bool
	WriteAvailability(deviceID, driver string, available bool)
}

// influxSink adapts the InfluxDB writer to device.ValueSink.
type influxSink struct {
	client influxWriter
}

var _ device.ValueSink = influxSink{client: (*influxdb.Client)(nil)}

func (s influxSink) CapabilityChanged(_ context.Context, d *device.Device, capability string, value any) {
	s.client.WriteCapability(d.ID, d.Driver, capability, value)
}

func (s influxSink) AvailabilityChanged(_ context.Context, d *device.Device, available bool) {
	s.client.WriteAvailability(d.ID, d.Driver, available)
}

// DeviceRemoved keeps the history of removed devices.
func (s influxSink) DeviceRemoved(context.Context, string) {}

// stateWriter is the part of *statecache.StateCache the sink uses.
type stateWriter interface {
	Set(ctx context.Context, deviceID, capability string, value any) error
	Delete(ctx context.Context, deviceID string) error
}

// stateReader is the part of *statecache.StateCache used at startup.
type stateReader interface {
	Get(ctx context.Context, deviceID string) (map[string]any, error)
}

// valueRestorer is the part of *device.Registry used at startup.
type valueRestorer interface {
	RestoreValues(id string, values map[string]any) int
}

// restoreState seeds last known capability values so the API answers with
// them before the devices report again. Availability is not restored.
func restoreState(ctx context.Context, cache stateReader, registry valueRestorer, devices []device.Device, log warnLogger) int {
	total := 0
	for _, d := range devices {
		values, err := cache.Get(ctx, d.ID)
		if err != nil {
			log.Warn("state cache read failed", "device_id", d.ID, "error", err)
			continue
		}
		delete(values, availableField)
		total += registry.RestoreValues(d.ID, values)
	}
	return total
}

type warnLogger interface {
	Warn(msg string, args ...any)
}

// cacheSink adapts the Redis state cache to device.ValueSink. It does
// network I/O and is registered behind a device.AsyncSink.
type cacheSink struct {
	cache stateWriter
	log   warnLogger
}

var _ device.ValueSink = cacheSink{cache: (*statecache.StateCache)(nil)}

func (s cacheSink) CapabilityChanged(ctx context.Context, d *device.Device, capability string, value any) {
	if err := s.cache.Set(ctx, d.ID, capability, value); err != nil {
		s.log.Warn("state cache write failed", "device_id", d.ID, "capability", capability, "error", err)
	}
}

func (s cacheSink) AvailabilityChanged(ctx context.Context, d *device.Device, available bool) {
	if err := s.cache.Set(ctx, d.ID, availableField, available); err != nil {
		s.log.Warn("state cache write failed", "device_id", d.ID, "field", availableField, "error", err)
	}
}

func (s cacheSink) DeviceRemoved(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, id); err != nil {
		s.log.Warn("state cache delete failed", "device_id", id, "error", err)
	}
}
