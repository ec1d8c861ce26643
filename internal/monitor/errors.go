package monitor

import "errors"

// Domain errors for the monitor package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, monitor.ErrRegistration) {
//	    // plugin was not registered
//	}
var (
	// ErrInitialization is returned when a plugin rejects its configuration.
	ErrInitialization = errors.New("monitor: initialization failed")

	// ErrRegistration is returned when Register does not store the plugin.
	ErrRegistration = errors.New("monitor: registration failed")

	// ErrAlreadyRegistered is returned when a name is already in the registry.
	ErrAlreadyRegistered = errors.New("monitor: protocol already registered")

	// ErrUnsupportedProtocol is returned for unknown protocol kinds or names.
	ErrUnsupportedProtocol = errors.New("monitor: unsupported protocol")

	// ErrNotInitialized is returned when a plugin is used before Init or after Destroy.
	ErrNotInitialized = errors.New("monitor: protocol not initialized")

	// ErrDeviceNotConnected is returned when a device has no live connection.
	ErrDeviceNotConnected = errors.New("monitor: device not connected")

	// ErrRegistryClosed is returned by lifecycle calls after Shutdown.
	ErrRegistryClosed = errors.New("monitor: registry closed")
)
