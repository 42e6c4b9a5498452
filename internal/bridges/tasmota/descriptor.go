package tasmota

import (
	"slices"
	"strings"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// Descriptor is a device found by a pairing session, ready to be persisted.
type Descriptor struct {
	ID                string                             `json:"id"`
	Name              string                             `json:"name"`
	Address           string                             `json:"address"`
	Class             string                             `json:"class"`
	Icon              string                             `json:"icon"`
	Settings          device.Settings                    `json:"settings"`
	Capabilities      []string                           `json:"capabilities"`
	CapabilityOptions map[string]device.CapabilityOption `json:"capabilities_options,omitempty"`
}

// Device converts the descriptor into a host record for driver.
func (d Descriptor) Device(driver string) *device.Device {
	return &device.Device{
		ID:                d.ID,
		Driver:            driver,
		Address:           d.Address,
		Name:              d.Name,
		Class:             d.Class,
		Icon:              d.Icon,
		Settings:          d.Settings,
		Capabilities:      slices.Clone(d.Capabilities),
		CapabilityOptions: d.CapabilityOptions,
	}
}

// DescribeDefaults are the settings given to newly discovered devices.
type DescribeDefaults struct {
	// UpdateInterval is the poll period in minutes.
	UpdateInterval int
	// ZigbeeTimeout is the freshness window in minutes, 0 disables expiry.
	ZigbeeTimeout int
}

// Family is the driver-level half of a device kind: how its devices are
// probed, described, addressed and instantiated.
type Family interface {
	Name() string

	// Probe is the command sent to group topics when pairing starts and to
	// devices announcing themselves online.
	Probe() (command, payload string)

	// IgnoreTopics lists topics the collector must skip because the
	// devices publishing on them are all paired already.
	IgnoreTopics(paired []device.Device) []string

	// Describe turns one collected record into zero or more descriptors.
	Describe(rec *Record, defaults DescribeDefaults) []Descriptor

	// Capabilities re-derives the capability list from persisted settings.
	Capabilities(settings device.Settings) []string

	// DefaultIcon selects the icon for persisted settings.
	DefaultIcon(settings device.Settings) string

	// Address returns the routing address used for duplicate detection.
	Address(settings device.Settings) string

	// NewKind creates the per-device behaviour for a paired device.
	NewKind(settings device.Settings) Kind

	// Register runs once when a runtime device is created.
	Register(d *Device)
}

// Settings values used for yes/no flags.
const (
	flagYes = "Yes"
	flagNo  = "No"
)

func yesNo(b bool) string {
	if b {
		return flagYes
	}
	return flagNo
}

// settingsList reads a comma separated settings value.
func settingsList(settings device.Settings, key string) []string {
	raw := settings.String(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// capabilityList keeps insertion order and drops duplicates.
type capabilityList []string

func (l *capabilityList) add(caps ...string) {
	for _, c := range caps {
		if c != "" && !slices.Contains(*l, c) {
			*l = append(*l, c)
		}
	}
}
