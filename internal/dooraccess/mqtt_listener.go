package dooraccess

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/mqtt"
)

// controllerSegment is the door level used for events not tied to a door.
const controllerSegment = "controller"

// Publisher is the subset of the MQTT client used to forward events.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// eventMessage is the JSON payload published for each access event.
type eventMessage struct {
	ID           string         `json:"id"`
	EventType    EventType      `json:"event_type"`
	Manufacturer string         `json:"manufacturer"`
	DoorID       string         `json:"door_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	UserName     string         `json:"user_name,omitempty"`
	Timestamp    int64          `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// MQTTListener forwards access events to graylogic/door/{manufacturer}/{door}/event.
type MQTTListener struct {
	publisher    Publisher
	manufacturer Manufacturer
	logger       Logger
}

// NewMQTTListener creates a listener publishing events for one manufacturer.
func NewMQTTListener(publisher Publisher, manufacturer Manufacturer, logger Logger) *MQTTListener {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTListener{publisher: publisher, manufacturer: manufacturer, logger: logger}
}

// HandleAccessEvent publishes the event. Publishing is not retained.
func (l *MQTTListener) HandleAccessEvent(event AccessEvent) error {
	door := event.DoorID
	if door == "" {
		door = controllerSegment
	}
	topic := mqtt.Topics{}.DoorEvent(strings.ToLower(string(l.manufacturer)), door)

	msg := eventMessage{
		ID:           event.ID,
		EventType:    event.Type,
		Manufacturer: string(l.manufacturer),
		DoorID:       event.DoorID,
		UserID:       event.UserID,
		UserName:     event.UserName,
		Timestamp:    event.TimestampMillis(),
		Data:         event.Data(),
	}
	if err := l.publisher.PublishJSON(topic, msg, false); err != nil {
		return fmt.Errorf("publishing access event to %s: %w", topic, err)
	}

	l.logger.Debug("access event published", "topic", topic, "event_type", string(event.Type))
	return nil
}
