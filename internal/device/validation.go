package device

import (
	"fmt"
	"strings"
)

const (
	maxNameLength   = 100
	maxCapabilities = 64
	maxSettingsKeys = 64
)

// ValidateDevice checks the fields required before a device is persisted.
// All problems are reported together, wrapped in ErrInvalidDevice.
func ValidateDevice(d *Device) error {
	var problems []string

	if strings.TrimSpace(d.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(d.Driver) == "" {
		problems = append(problems, "driver is required")
	}
	if strings.TrimSpace(d.Address) == "" {
		problems = append(problems, "address is required")
	}

	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		problems = append(problems, "name is required")
	case len(name) > maxNameLength:
		problems = append(problems, fmt.Sprintf("name exceeds %d characters", maxNameLength))
	}

	if len(d.Capabilities) > maxCapabilities {
		problems = append(problems, fmt.Sprintf("more than %d capabilities", maxCapabilities))
	}
	seen := make(map[string]bool, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if c == "" {
			problems = append(problems, "empty capability id")
			continue
		}
		if seen[c] {
			problems = append(problems, fmt.Sprintf("duplicate capability %q", c))
		}
		seen[c] = true
	}

	if len(d.Settings) > maxSettingsKeys {
		problems = append(problems, fmt.Sprintf("more than %d settings", maxSettingsKeys))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDevice, strings.Join(problems, "; "))
	}
	return nil
}
