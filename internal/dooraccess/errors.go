package dooraccess

import "errors"

// Domain errors for the dooraccess package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, dooraccess.ErrNotConnected) {
//	    // reconnect and retry
//	}
var (
	// ErrInvalidArgument is returned for caller mistakes such as an empty
	// door ID. It never updates the adapter's last error.
	ErrInvalidArgument = errors.New("dooraccess: invalid argument")

	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("dooraccess: not connected")

	// ErrConnection is returned when login or transport setup fails during Connect.
	ErrConnection = errors.New("dooraccess: connection failed")

	// ErrAdapter is returned when the controller fails an authenticated call.
	ErrAdapter = errors.New("dooraccess: controller error")

	// ErrUnsupportedManufacturer is returned by the Factory for unknown manufacturers.
	ErrUnsupportedManufacturer = errors.New("dooraccess: unsupported manufacturer")
)
