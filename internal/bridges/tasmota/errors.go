package tasmota

import "errors"

// Domain errors for the Tasmota bridge package.
var (
	// ErrNoMessages is returned when a pairing session converged without
	// observing a single message.
	ErrNoMessages = errors.New("tasmota: no messages received during pairing")

	// ErrNoNewDevices is returned when messages were observed but no new
	// device could be resolved from them.
	ErrNoNewDevices = errors.New("tasmota: no new devices found")

	// ErrPairingInProgress is returned while a session is still collecting.
	ErrPairingInProgress = errors.New("tasmota: pairing in progress")

	// ErrNoPairingSession is returned when no pairing session is active.
	ErrNoPairingSession = errors.New("tasmota: no pairing session")

	// ErrUnknownDriver is returned when a driver name is not registered.
	ErrUnknownDriver = errors.New("tasmota: unknown driver")

	// ErrDeviceNotFound is returned when the driver has no runtime device
	// with the requested id.
	ErrDeviceNotFound = errors.New("tasmota: device not found")

	// ErrUnsupportedCapability is returned when a capability cannot be
	// translated into a device command.
	ErrUnsupportedCapability = errors.New("tasmota: capability cannot be set")

	// ErrInvalidValue is returned when a capability value has the wrong type.
	ErrInvalidValue = errors.New("tasmota: invalid capability value")

	// ErrTransportUnavailable is returned when pairing is started while the
	// broker connection is down.
	ErrTransportUnavailable = errors.New("tasmota: transport unavailable")

	// ErrBridgeStopped is returned by Do once Run has returned.
	ErrBridgeStopped = errors.New("tasmota: bridge stopped")
)
