package device

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"time"
)

// Device classes chosen at pairing time.
const (
	ClassSocket = "socket"
	ClassLight  = "light"
	ClassFan    = "fan"
	ClassSensor = "sensor"
	ClassOther  = "other"
)

// Device is a paired field device as persisted by the host.
// This matches the devices table in migrations/20260301_090000_devices.up.sql.
type Device struct {
	ID      string `json:"id"`
	Driver  string `json:"driver"`
	Address string `json:"address"`
	Name    string `json:"name"`
	Class   string `json:"class"`
	Icon    string `json:"icon"`

	Settings          Settings                    `json:"settings"`
	Capabilities      []string                    `json:"capabilities"`
	CapabilityOptions map[string]CapabilityOption `json:"capabilities_options,omitempty"`

	// Runtime only, not persisted.
	Available         bool   `json:"available"`
	UnavailableReason string `json:"unavailable_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CapabilityOption carries display overrides for one capability.
type CapabilityOption struct {
	Title string `json:"title,omitempty"`
	Units string `json:"units,omitempty"`
}

// HasCapability reports whether the device was paired with capability.
func (d *Device) HasCapability(capability string) bool {
	return slices.Contains(d.Capabilities, capability)
}

// DeepCopy returns an independent copy; settings values are scalars so a
// map clone is enough.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Settings = maps.Clone(d.Settings)
	cpy.Capabilities = slices.Clone(d.Capabilities)
	cpy.CapabilityOptions = maps.Clone(d.CapabilityOptions)
	return &cpy
}

// Settings is the per-device settings block. Values are strings, bools or
// numbers; after a JSON round trip numbers come back as float64, so use the
// typed accessors.
type Settings map[string]any

// String returns the setting as a string, formatting non-string values.
func (s Settings) String(key string) string {
	switch v := s[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		b, _ := json.Marshal(v) //nolint:errcheck // Settings hold JSON-safe values
		return string(b)
	}
}

// Bool returns the setting as a bool. "Yes"/"true"/"1" and non-zero numbers are true.
func (s Settings) Bool(key string) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		switch v {
		case "Yes", "yes", "true", "1":
			return true
		}
		return false
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

// Int returns the setting as an int, or def when absent or unparsable.
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// ChangedKeys lists the keys of patch whose values differ from s, sorted.
func (s Settings) ChangedKeys(patch Settings) []string {
	var changed []string
	for k := range patch {
		if _, ok := s[k]; !ok || s.String(k) != patch.String(k) {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed
}
