package dooraccess

import (
	"context"
	"maps"
	"math"
	"strconv"
	"time"
)

// EventSource is implemented by adapters that can replay events raised on
// the controller itself, such as card swipes, alarms and forced doors.
type EventSource interface {
	// PollEvents reads the controller's event store from cursor onwards,
	// notifies listeners of each new event in controller order, advances
	// cursor and returns how many events were delivered.
	PollEvents(ctx context.Context, cursor *EventCursor) (int, error)
}

// EventCursor records how far a controller's event store has been replayed.
// The zero value replays every event the controller returns.
type EventCursor struct {
	// Since is the time of the newest event replayed so far.
	Since time.Time

	// edge holds the keys of replayed events stamped exactly Since.
	// Controllers stamp events to the second, so several can share it.
	edge map[string]struct{}
}

// storedEvent is one decoded entry of a vendor event store.
type storedEvent struct {
	key       string
	eventType EventType
	doorID    string
	userID    string
	userName  string
	at        time.Time
	data      map[string]any
}

// replay runs one PollEvents pass. fetch reads the store and decode maps a
// vendor record, rejecting entries that are not door events.
func (s *session) replay(
	ctx context.Context,
	cursor *EventCursor,
	fetch func(context.Context, LogFilter) ([]Record, error),
	decode func(Record) (storedEvent, bool),
) (int, error) {
	const op = "poll_events"
	if cursor == nil {
		return 0, invalidArgument(op, "cursor is required")
	}

	records, err := fetch(ctx, LogFilter{Start: cursor.Since})
	if err != nil {
		return 0, err
	}

	newest, edge := cursor.Since, cursor.edge
	delivered := 0
	for _, rec := range records {
		ev, ok := decode(rec)
		if !ok || ev.at.Before(cursor.Since) {
			continue
		}
		if ev.at.Equal(cursor.Since) {
			if _, seen := cursor.edge[ev.key]; seen {
				continue
			}
		}

		s.notifyStored(ev)
		delivered++

		switch {
		case ev.at.After(newest):
			newest = ev.at
			edge = map[string]struct{}{ev.key: {}}
		case ev.at.Equal(newest):
			if edge == nil {
				edge = make(map[string]struct{})
			}
			edge[ev.key] = struct{}{}
		}
	}

	cursor.Since, cursor.edge = newest, edge
	if delivered > 0 {
		s.logger.Debug("controller events replayed",
			"manufacturer", string(s.manufacturer),
			"count", delivered,
		)
	}
	return delivered, nil
}

// notifyStored delivers a replayed event with the controller's own timestamp.
func (s *session) notifyStored(ev storedEvent) {
	if s.listeners.len() == 0 {
		return
	}
	attrs := map[string]any{"manufacturer": string(s.manufacturer), "source": "event_store"}
	maps.Copy(attrs, ev.data)
	s.listeners.notify(NewAccessEvent(ev.eventType, ev.doorID, ev.userID, ev.userName, ev.at, attrs), s.logger)
}

// eventKey identifies a stored event. Vendors that number their events
// supply id; otherwise the event's own fields stand in.
func eventKey(id string, ev storedEvent) string {
	if id != "" {
		return id
	}
	return string(ev.eventType) + "|" + ev.doorID + "|" + ev.userID + "|" + ev.at.Format(time.RFC3339Nano)
}

// recordString reads a text field. Numbers are formatted without a fraction
// when they are whole.
func recordString(rec Record, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// recordInt reads an integer field sent as a number, numeric string or bool.
func recordInt(rec Record, key string) (int, bool) {
	switch v := rec[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
