package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrDuplicateAddress is returned when another device of the same driver
	// already uses the address.
	ErrDuplicateAddress = errors.New("device: address already in use")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrCapabilityNotFound is returned when writing a capability the device does not have.
	ErrCapabilityNotFound = errors.New("device: capability not found")
)
