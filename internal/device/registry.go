package device

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// ValueSink receives capability and availability changes after the
// registry has applied them, and device removals. Sinks are called
// synchronously, outside the registry lock, and must not block: wrap sinks
// that do network or disk I/O in an AsyncSink.
type ValueSink interface {
	CapabilityChanged(ctx context.Context, d *Device, capability string, value any)
	AvailabilityChanged(ctx context.Context, d *Device, available bool)
	DeviceRemoved(ctx context.Context, id string)
}

// Registry caches persisted devices and holds their runtime state:
// capability values and availability.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	mu     sync.RWMutex
	cache  map[string]*Device
	values map[string]map[string]any

	sinks  []ValueSink
	logger Logger
}

// NewRegistry creates a registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		values: make(map[string]map[string]any),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddSink registers a value sink. Call before the bridge starts.
func (r *Registry) AddSink(sink ValueSink) {
	r.sinks = append(r.sinks, sink)
}

// RefreshCache reloads all devices from the repository. Runtime values of
// devices that still exist are kept.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}
	for id := range r.values {
		if _, ok := r.cache[id]; !ok {
			delete(r.values, id)
		}
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice returns a copy of the device, including runtime availability.
func (r *Registry) GetDevice(_ context.Context, id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.cache[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// ListDevices returns copies of all devices ordered by name.
func (r *Registry) ListDevices(_ context.Context) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(*Device) bool { return true })
}

// ListByDriver returns copies of the devices owned by driver, ordered by name.
func (r *Registry) ListByDriver(_ context.Context, driver string) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(d *Device) bool { return d.Driver == driver })
}

func (r *Registry) sortedLocked(keep func(*Device) bool) []Device {
	out := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		if keep(d) {
			out = append(out, *d.DeepCopy())
		}
	}
	slices.SortFunc(out, func(a, b Device) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// AddressInUse reports whether another device of driver already has address.
func (r *Registry) AddressInUse(driver, address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addressInUseLocked(driver, address, "")
}

func (r *Registry) addressInUseLocked(driver, address, exceptID string) bool {
	for id, d := range r.cache {
		if id != exceptID && d.Driver == driver && d.Address == address {
			return true
		}
	}
	return false
}

// CreateDevice validates and persists a new device. New devices start
// unavailable until their driver confirms liveness.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	r.mu.RLock()
	_, exists := r.cache[d.ID]
	dup := r.addressInUseLocked(d.Driver, d.Address, d.ID)
	r.mu.RUnlock()
	if exists {
		return ErrDeviceExists
	}
	if dup {
		return fmt.Errorf("%w: %s %s", ErrDuplicateAddress, d.Driver, d.Address)
	}

	d.Available = false
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.mu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.values[d.ID] = make(map[string]any)
	r.mu.Unlock()

	r.logger.Info("device created", "device_id", d.ID, "driver", d.Driver, "name", d.Name)
	return nil
}

// UpdateSettings merges patch into the device settings, persists them and
// returns the keys whose values changed. address, when non-empty, replaces
// the routing address and is checked for duplicates.
func (r *Registry) UpdateSettings(ctx context.Context, id string, patch Settings, address string) ([]string, error) {
	r.mu.RLock()
	current, ok := r.cache[id]
	if !ok {
		r.mu.RUnlock()
		return nil, ErrDeviceNotFound
	}
	updated := current.DeepCopy()
	if address != "" && r.addressInUseLocked(updated.Driver, address, id) {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicateAddress, updated.Driver, address)
	}
	r.mu.RUnlock()

	changed := updated.Settings.ChangedKeys(patch)
	if len(changed) == 0 {
		return nil, nil
	}
	if updated.Settings == nil {
		updated.Settings = Settings{}
	}
	maps.Copy(updated.Settings, patch)
	if address != "" {
		updated.Address = address
	}

	if err := r.repo.Update(ctx, updated); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated.Available = cached.Available
		updated.UnavailableReason = cached.UnavailableReason
	}
	r.cache[id] = updated
	r.mu.Unlock()

	r.logger.Info("device settings updated", "device_id", id, "changed", changed)
	return changed, nil
}

// SetIcon persists a new icon name.
func (r *Registry) SetIcon(ctx context.Context, id, icon string) error {
	return r.mutate(ctx, id, func(d *Device) { d.Icon = icon })
}

// DeleteDevice removes a device and its runtime values.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, id)
	delete(r.values, id)
	r.mu.Unlock()

	r.logger.Info("device deleted", "device_id", id)
	for _, sink := range r.sinks {
		sink.DeviceRemoved(ctx, id)
	}
	return nil
}

// HasCapability reports whether the device has capability.
func (r *Registry) HasCapability(id, capability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.cache[id]
	return ok && d.HasCapability(capability)
}

// CapabilityValue returns the last value written for capability.
func (r *Registry) CapabilityValue(id, capability string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[id][capability]
	return v, ok
}

// CapabilityValues returns a copy of all runtime values of a device.
func (r *Registry) CapabilityValues(id string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.values[id])
}

// RestoreValues seeds last known capability values, typically from the
// state cache at startup. Values for capabilities the device does not have
// are skipped, existing values are kept and sinks are not notified. It
// returns the number of values restored.
func (r *Registry) RestoreValues(id string, values map[string]any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.cache[id]
	if !ok {
		return 0
	}

	vals := r.values[id]
	if vals == nil {
		vals = make(map[string]any)
		r.values[id] = vals
	}
	n := 0
	for capability, v := range values {
		if v == nil || !d.HasCapability(capability) {
			continue
		}
		if _, had := vals[capability]; had {
			continue
		}
		vals[capability] = v
		n++
	}
	return n
}

// SetCapabilityValue stores a value and reports whether it changed. Sinks
// are notified on change only.
func (r *Registry) SetCapabilityValue(ctx context.Context, id, capability string, value any) (bool, error) {
	r.mu.Lock()
	d, ok := r.cache[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrDeviceNotFound
	}
	if !d.HasCapability(capability) {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s on %s", ErrCapabilityNotFound, capability, id)
	}

	vals := r.values[id]
	if vals == nil {
		vals = make(map[string]any)
		r.values[id] = vals
	}
	old, had := vals[capability]
	if had && reflect.DeepEqual(old, value) {
		r.mu.Unlock()
		return false, nil
	}
	vals[capability] = value
	snapshot := d.DeepCopy()
	r.mu.Unlock()

	for _, s := range r.sinks {
		s.CapabilityChanged(ctx, snapshot, capability, value)
	}
	return true, nil
}

// AddCapability appends a capability to a device and persists it.
// Adding an existing capability is a no-op.
func (r *Registry) AddCapability(ctx context.Context, id, capability string) error {
	if r.HasCapability(id, capability) {
		return nil
	}
	return r.mutate(ctx, id, func(d *Device) {
		d.Capabilities = append(d.Capabilities, capability)
	})
}

// SetAvailable marks the device reachable.
func (r *Registry) SetAvailable(ctx context.Context, id string) error {
	return r.setAvailability(ctx, id, true, "")
}

// SetUnavailable marks the device unreachable with a user-facing reason.
func (r *Registry) SetUnavailable(ctx context.Context, id, reason string) error {
	return r.setAvailability(ctx, id, false, reason)
}

func (r *Registry) setAvailability(ctx context.Context, id string, available bool, reason string) error {
	r.mu.Lock()
	d, ok := r.cache[id]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	changed := d.Available != available
	d.Available = available
	d.UnavailableReason = reason
	snapshot := d.DeepCopy()
	r.mu.Unlock()

	if changed {
		r.logger.Debug("device availability changed", "device_id", id, "available", available, "reason", reason)
		for _, s := range r.sinks {
			s.AvailabilityChanged(ctx, snapshot, available)
		}
	}
	return nil
}

// mutate applies fn to a copy of the cached device, persists it and swaps
// it into the cache.
func (r *Registry) mutate(ctx context.Context, id string, fn func(*Device)) error {
	r.mu.RLock()
	current, ok := r.cache[id]
	if !ok {
		r.mu.RUnlock()
		return ErrDeviceNotFound
	}
	updated := current.DeepCopy()
	r.mu.RUnlock()

	fn(updated)
	if err := r.repo.Update(ctx, updated); err != nil {
		return err
	}

	r.mu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated.Available = cached.Available
		updated.UnavailableReason = cached.UnavailableReason
	}
	r.cache[id] = updated
	r.mu.Unlock()
	return nil
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	Available    int
	ByDriver     map[string]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{TotalDevices: len(r.cache), ByDriver: make(map[string]int)}
	for _, d := range r.cache {
		stats.ByDriver[d.Driver]++
		if d.Available {
			stats.Available++
		}
	}
	return stats
}
