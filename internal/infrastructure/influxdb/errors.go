package influxdb

import "errors"

// Errors returned by the metrics sink. Write failures are reported through
// the async error callback instead.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: metrics sink disabled")

	// ErrConnectionFailed means the startup ping failed or reported an
	// unhealthy server.
	ErrConnectionFailed = errors.New("influxdb: metrics sink unreachable")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: metrics sink closed")
)
