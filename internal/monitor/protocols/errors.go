package protocols

import "errors"

var (
	// errShortResponse is returned when a device answers with fewer bytes than requested.
	errShortResponse = errors.New("protocols: short response")

	// errDeviceRejected is returned when a device answers a command with an error.
	errDeviceRejected = errors.New("protocols: device rejected command")
)
