package sensor

import (
	"strings"
)

// InstancePlaceholder is replaced with the sensor instance name in
// capability templates.
const InstancePlaceholder = "{sensor}"

// ValuePlaceholder is replaced with the unit value in unit templates.
const ValuePlaceholder = "{value}"

// EnergyInstance is the instance name Tasmota uses for its power monitor.
// Captions for it are not suffixed with the instance.
const EnergyInstance = "ENERGY"

// Units describes how the display unit of a capability is derived.
type Units struct {
	// Default is used when Field is empty or absent from the payload.
	Default string
	// Field optionally names a top-level payload field carrying the unit,
	// such as "TempUnit" or "PressureUnit".
	Field string
	// Template wraps the unit value; it must contain ValuePlaceholder.
	Template string
}

// Entry is one row of the sensor table.
type Entry struct {
	// Capability is the capability id template, e.g. "measure_power.{sensor}".
	Capability string
	Caption    string
	Units      Units
	// Convert is applied to raw values before they are stored. nil means
	// the value is stored as decoded.
	Convert func(any) (any, error)
}

// Schema maps a Tasmota reading key to its capability entry.
type Schema map[string]Entry

// Lookup returns the entry for a reading key.
func (s Schema) Lookup(key string) (Entry, bool) {
	e, ok := s[key]
	return e, ok
}

// Resolution is the result of resolving a walked path.
type Resolution struct {
	Key        string
	Instance   string
	Capability string
	Entry      Entry
}

// Resolve looks the last path segment up in the schema. The instance is the
// second-to-last segment, or "" for single-segment paths.
func (s Schema) Resolve(path []string) (Resolution, bool) {
	if len(path) == 0 {
		return Resolution{}, false
	}
	key := path[len(path)-1]
	entry, ok := s[key]
	if !ok {
		return Resolution{}, false
	}

	instance := ""
	if len(path) > 1 {
		instance = path[len(path)-2]
	}
	return Resolution{
		Key:        key,
		Instance:   instance,
		Capability: CapabilityID(entry.Capability, instance),
		Entry:      entry,
	}, true
}

// ResolveKey resolves a reading key without an instance, as used by devices
// whose readings are never disambiguated (zigbee end devices).
func (s Schema) ResolveKey(key string) (Resolution, bool) {
	return s.Resolve([]string{key})
}

// Value applies the entry's converter, if any.
func (r Resolution) Value(raw any) (any, error) {
	if r.Entry.Convert == nil {
		return raw, nil
	}
	return r.Entry.Convert(raw)
}

// CapabilityID substitutes instance into template. An empty instance drops
// the placeholder together with the separator before it, so
// "measure_power.{sensor}" becomes "measure_power".
func CapabilityID(template, instance string) string {
	if instance == "" {
		template = strings.ReplaceAll(template, "."+InstancePlaceholder, "")
		return strings.ReplaceAll(template, InstancePlaceholder, "")
	}
	return strings.ReplaceAll(template, InstancePlaceholder, instance)
}

// Title returns the capability caption, suffixed with the instance name
// unless the reading belongs to the power monitor.
func (e Entry) Title(instance string) string {
	if instance == "" || instance == EnergyInstance {
		return e.Caption
	}
	return e.Caption + " (" + instance + ")"
}

// UnitsFor renders the display unit. attrs holds top-level payload fields
// collected alongside the readings.
func (e Entry) UnitsFor(attrs map[string]string) string {
	unit := e.Units.Default
	if e.Units.Field != "" {
		if v, ok := attrs[e.Units.Field]; ok {
			unit = v
		}
	}
	tmpl := e.Units.Template
	if tmpl == "" {
		tmpl = ValuePlaceholder
	}
	return strings.ReplaceAll(tmpl, ValuePlaceholder, unit)
}
