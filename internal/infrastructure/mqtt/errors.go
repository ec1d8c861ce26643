package mqtt

import "errors"

// Errors returned by the gateway's broker client. Wrapped errors carry the
// broker's own reason; match them with errors.Is.
var (
	// ErrNotConnected means the broker link is down. Door events and status
	// updates are dropped rather than queued.
	ErrNotConnected = errors.New("mqtt: broker not connected")

	// ErrConnectionFailed means the gateway could not reach the broker at startup.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
