package tasmota

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/sensor"
)

// ZigbeeDriver is the driver name of Zigbee end devices behind a Tasmota
// Zigbee bridge.
const ZigbeeDriver = "tasmota_zigbee"

// Settings keys of zigbee devices.
const (
	settingZigbeeID      = "zigbee_device_id"
	settingZigbeeTimeout = "zigbee_timeout"
)

const (
	capLastSeen = "measure_last_seen"

	fieldZbStatus      = "ZbStatus3"
	fieldZbReceived    = "ZbReceived"
	fieldDevice        = "Device"
	fieldName          = "Name"
	fieldLastSeenEpoch = "LastSeenEpoch"
)

// LastSeenObserver is told when a device's measure_last_seen value changes.
type LastSeenObserver func(d *Device, seconds int64)

// ZigbeeFamily describes Zigbee end devices. All of them share the topic
// of their Tasmota bridge and are told apart by their short address.
type ZigbeeFamily struct {
	schema   sensor.Schema
	lastSeen LastSeenObserver
}

// NewZigbeeFamily creates the family using schema for readings.
func NewZigbeeFamily(schema sensor.Schema) *ZigbeeFamily {
	return &ZigbeeFamily{schema: schema}
}

// SetLastSeenObserver registers the measure_last_seen change callback.
func (f *ZigbeeFamily) SetLastSeenObserver(fn LastSeenObserver) {
	f.lastSeen = fn
}

// Name implements Family.
func (f *ZigbeeFamily) Name() string { return ZigbeeDriver }

// Probe implements Family: ZbStatus3 without a device lists every device
// the coordinator knows, with its last readings.
func (f *ZigbeeFamily) Probe() (string, string) { return fieldZbStatus, "" }

// IgnoreTopics implements Family. Bridge topics are shared by paired and
// unpaired devices, so paired ones are filtered by address instead.
func (f *ZigbeeFamily) IgnoreTopics([]device.Device) []string { return nil }

// Address implements Family.
func (f *ZigbeeFamily) Address(settings device.Settings) string {
	return ZigbeeAddress(settings.String(settingTopic), settings.String(settingZigbeeID))
}

// Describe implements Family. Every ZbStatus3 entry with a short address
// becomes one descriptor; repeated entries are merged.
func (f *ZigbeeFamily) Describe(rec *Record, defaults DescribeDefaults) []Descriptor {
	merged := make(map[string]map[string]any)
	for _, item := range rec.Fields[fieldZbStatus] {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		addr, _ := entry[fieldDevice].(string)
		if addr == "" {
			continue
		}
		if merged[addr] == nil {
			merged[addr] = make(map[string]any)
		}
		for k, v := range entry {
			merged[addr][k] = v
		}
	}

	addrs := make([]string, 0, len(merged))
	for a := range merged {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)

	out := make([]Descriptor, 0, len(addrs))
	for _, addr := range addrs {
		entry := merged[addr]
		name, _ := entry[fieldName].(string)
		if name == "" {
			name = addr
		}

		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		options := map[string]device.CapabilityOption{
			capLastSeen: {Title: "Last seen", Units: "s"},
		}
		var readings []string
		for _, key := range keys {
			res, ok := f.schema.ResolveKey(key)
			if !ok {
				continue
			}
			readings = append(readings, key)
			options[res.Capability] = device.CapabilityOption{
				Title: res.Entry.Title(""),
				Units: res.Entry.UnitsFor(nil),
			}
		}

		settings := device.Settings{
			settingTopic:          rec.Topic,
			settingSwapPrefix:     rec.SwapPrefixTopic,
			settingZigbeeID:       addr,
			settingZigbeeTimeout:  defaults.ZigbeeTimeout,
			settingSensors:        strings.Join(readings, ","),
			settingUpdateInterval: defaults.UpdateInterval,
		}
		out = append(out, Descriptor{
			ID:                rec.Topic + "_" + addr,
			Name:              name,
			Address:           f.Address(settings),
			Class:             device.ClassSensor,
			Icon:              f.DefaultIcon(settings),
			Settings:          settings,
			Capabilities:      f.Capabilities(settings),
			CapabilityOptions: options,
		})
	}
	return out
}

// Capabilities implements Family: one capability per known reading, then
// measure_last_seen.
func (f *ZigbeeFamily) Capabilities(settings device.Settings) []string {
	var caps capabilityList
	for _, key := range settingsList(settings, settingSensors) {
		if res, ok := f.schema.ResolveKey(key); ok {
			caps.add(res.Capability)
		}
	}
	caps.add(capLastSeen)
	return caps
}

// DefaultIcon implements Family.
func (f *ZigbeeFamily) DefaultIcon(device.Settings) string { return "sensor.svg" }

// NewKind implements Family.
func (f *ZigbeeFamily) NewKind(settings device.Settings) Kind {
	k := &zigbeeKind{family: f}
	k.apply(settings)
	return k
}

// Register implements Family.
func (f *ZigbeeFamily) Register(*Device) {}

// zigbeeKind infers liveness from a last-seen timestamp. With a non-zero
// window the device is available while lastSeen+window is not in the past;
// a zero window never expires once the device has been seen.
type zigbeeKind struct {
	family   *ZigbeeFamily
	deviceID string
	window   time.Duration
}

func (k *zigbeeKind) apply(settings device.Settings) {
	k.deviceID = settings.String(settingZigbeeID)
	k.window = time.Duration(settings.Int(settingZigbeeTimeout, 0)) * time.Minute
}

func (k *zigbeeKind) Name() string { return ZigbeeDriver }

func (k *zigbeeKind) DefaultPoll(d *Device) {
	d.send(fieldZbStatus, k.deviceID)
}

// Accepts takes messages that reference the device's short address and the
// coordinator's LWT, which is the only offline notice a zigbee device gets.
func (k *zigbeeKind) Accepts(_ *Device, msg Message) bool {
	if msg.Segment(2) == lwtSuffix || strings.EqualFold(msg.Segment(2), k.deviceID) {
		return true
	}
	_, _, ok := k.extract(msg)
	return ok
}

// extract finds this device's object in a bridge payload. received is true
// for ZbReceived reports, which prove the device is alive.
func (k *zigbeeKind) extract(msg Message) (inner map[string]any, received, ok bool) {
	obj, isObj := msg.Object()
	if !isObj {
		return nil, false, false
	}
	if zr, isMap := obj[fieldZbReceived].(map[string]any); isMap {
		for id, v := range zr {
			if strings.EqualFold(id, k.deviceID) {
				inner, _ = v.(map[string]any)
				return inner, true, inner != nil
			}
		}
	}
	if list, isList := obj[fieldZbStatus].([]any); isList {
		for _, item := range list {
			entry, isMap := item.(map[string]any)
			if !isMap {
				continue
			}
			if id, _ := entry[fieldDevice].(string); strings.EqualFold(id, k.deviceID) {
				return entry, false, true
			}
		}
	}
	if strings.EqualFold(msg.Segment(2), k.deviceID) || msg.Segment(3) == fieldZbReceived {
		return obj, msg.Segment(3) == fieldZbReceived, true
	}
	return nil, false, false
}

func (k *zigbeeKind) ProcessMessage(d *Device, msg Message) error {
	now := d.clock.Now()
	inner, received, ok := k.extract(msg)
	if received || msg.Segment(3) == fieldZbReceived {
		d.lastSeen = now
		k.updateLastSeen(d, now)
	}
	if !ok {
		return nil
	}

	wrapped := map[string]any{d.topic: map[string]any{k.deviceID: inner}}
	var errs []error
	recheck := false
	sensor.Walk(wrapped, func(path []string, value any) {
		key := path[len(path)-1]
		if key == fieldLastSeenEpoch {
			epoch, err := sensor.ToFloat(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", fieldLastSeenEpoch, err))
				return
			}
			seen := time.Unix(int64(epoch.(float64)), 0)
			if !seen.Equal(d.lastSeen) || d.stage == StageUnavailable {
				d.lastSeen = seen
				d.answerTimeout = time.Time{}
			}
			recheck = true
			return
		}

		res, ok := k.family.schema.ResolveKey(key)
		if !ok || value == nil {
			return
		}
		v, err := res.Value(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Capability, err))
			return
		}
		d.updateCapability(res.Capability, v)
	})
	if recheck {
		errs = append(errs, k.CheckStatus(d, now))
	}
	return errors.Join(errs...)
}

func (k *zigbeeKind) fresh(d *Device, now time.Time) bool {
	return k.window <= 0 || !d.lastSeen.Add(k.window).Before(now)
}

// CheckStatus layers the freshness window over the base schedule. A device
// seen within its window is not timed out by an unanswered poll.
func (k *zigbeeKind) CheckStatus(d *Device, now time.Time) error {
	seen := !d.lastSeen.IsZero()
	if seen && d.stage == StageInit {
		d.markAvailable()
	}
	if seen && k.fresh(d, now) {
		d.answerTimeout = time.Time{}
	}

	d.checkSchedule(now)

	if !seen {
		return nil
	}
	k.updateLastSeen(d, now)
	if !d.answerTimeout.IsZero() && !now.Before(d.answerTimeout) {
		return nil
	}
	valid := k.fresh(d, now)
	switch {
	case d.stage == StageAvailable && !valid:
		d.setStage(StageUnavailable)
		d.answerTimeout = time.Time{}
		d.invalidate(reasonTimeout)
	case d.stage == StageUnavailable && valid:
		d.markAvailable()
	}
	return nil
}

func (k *zigbeeKind) updateLastSeen(d *Device, now time.Time) {
	if d.lastSeen.IsZero() {
		return
	}
	seconds := int64(now.Sub(d.lastSeen) / time.Second)
	if d.updateCapability(capLastSeen, float64(seconds)) && k.family.lastSeen != nil {
		k.family.lastSeen(d, seconds)
	}
}

func (k *zigbeeKind) Configure(d *Device, settings device.Settings, changed []string) bool {
	k.apply(settings)
	if slices.Contains(changed, settingZigbeeTimeout) {
		d.ScheduleNow()
	}
	return slices.Contains(changed, settingZigbeeID)
}

// ZigbeeAddress formats the registry address of a zigbee device.
func ZigbeeAddress(topic, deviceID string) string {
	return topic + "/" + deviceID
}
