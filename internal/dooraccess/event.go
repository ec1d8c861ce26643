package dooraccess

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened at a door.
type EventType string

// Event types reported by adapters.
const (
	EventDoorOpen           EventType = "DOOR_OPEN"
	EventDoorClose          EventType = "DOOR_CLOSE"
	EventAccessDenied       EventType = "ACCESS_DENIED"
	EventAccessGranted      EventType = "ACCESS_GRANTED"
	EventAlarm              EventType = "ALARM"
	EventDoorOpenTooLong    EventType = "DOOR_OPEN_TOO_LONG"
	EventForcedOpen         EventType = "FORCED_OPEN"
	EventInvalidCard        EventType = "INVALID_CARD"
	EventUserAuthentication EventType = "USER_AUTHENTICATION"
)

// AllEventTypes lists every event type in declaration order.
var AllEventTypes = []EventType{
	EventDoorOpen,
	EventDoorClose,
	EventAccessDenied,
	EventAccessGranted,
	EventAlarm,
	EventDoorOpenTooLong,
	EventForcedOpen,
	EventInvalidCard,
	EventUserAuthentication,
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AccessEvent is an immutable record of something that happened at a door.
// Construct with NewAccessEvent; the zero value carries no event.
type AccessEvent struct {
	ID        string
	Type      EventType
	DoorID    string
	UserID    string
	UserName  string
	Timestamp time.Time

	data map[string]any
}

// NewAccessEvent stamps an event with a fresh ID. The data map is copied, so
// later changes by the caller do not reach listeners.
func NewAccessEvent(eventType EventType, doorID, userID, userName string, ts time.Time, data map[string]any) AccessEvent {
	var copied map[string]any
	if len(data) > 0 {
		copied = maps.Clone(data)
	}
	return AccessEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		DoorID:    doorID,
		UserID:    userID,
		UserName:  userName,
		Timestamp: ts,
		data:      copied,
	}
}

// TimestampMillis returns the event time as Unix milliseconds.
func (e AccessEvent) TimestampMillis() int64 {
	return e.Timestamp.UnixMilli()
}

// Data returns a copy of the event's extra attributes, or nil if there are none.
func (e AccessEvent) Data() map[string]any {
	if e.data == nil {
		return nil
	}
	return maps.Clone(e.data)
}
