package dooraccess

import (
	"fmt"
	"reflect"
)

// EventListener receives access events from an adapter.
//
// HandleAccessEvent runs on the goroutine that triggered the event and
// blocks the operation until it returns, so implementations should hand
// slow work off elsewhere.
type EventListener interface {
	HandleAccessEvent(event AccessEvent) error
}

// EventListenerFunc adapts a function to EventListener.
//
// Functions are not comparable in Go, so registering the same
// EventListenerFunc twice delivers events twice. Register a pointer type
// when deduplication matters.
type EventListenerFunc func(event AccessEvent) error

// HandleAccessEvent calls f(event).
func (f EventListenerFunc) HandleAccessEvent(event AccessEvent) error {
	return f(event)
}

// listenerSet is an append-only, identity-deduplicated list of listeners.
type listenerSet struct {
	listeners []EventListener
}

// add appends l unless the same listener is already present.
// Reports whether l was added.
func (s *listenerSet) add(l EventListener) bool {
	if l == nil {
		return false
	}
	for _, existing := range s.listeners {
		if sameListener(existing, l) {
			return false
		}
	}
	s.listeners = append(s.listeners, l)
	return true
}

func (s *listenerSet) len() int {
	return len(s.listeners)
}

// notify delivers event to every listener in registration order.
// Each delivery is isolated: errors and panics are logged and the loop continues.
func (s *listenerSet) notify(event AccessEvent, logger Logger) {
	for i, l := range s.listeners {
		if err := deliver(l, event); err != nil {
			logger.Warn("access event listener failed",
				"listener", i,
				"event_type", string(event.Type),
				"door_id", event.DoorID,
				"error", err,
			)
		}
	}
}

// deliver invokes one listener, converting a panic into an error.
func deliver(l EventListener, event AccessEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.HandleAccessEvent(event)
}

// sameListener compares two listeners by identity. Values whose dynamic type
// is not comparable (functions, structs holding maps) are never equal.
func sameListener(a, b EventListener) (same bool) {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	// A comparable struct can still hold an incomparable value in an interface field.
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
