package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/dooraccess"
)

// recordTimeout bounds each audit insert made from an event callback.
const recordTimeout = 2 * time.Second

// Entity types written by Recorder.
const (
	EntityDoor       = "door"
	EntityController = "controller"
)

// Recorder writes door access events to the audit trail. It satisfies
// dooraccess.EventListener; register one per adapter.
type Recorder struct {
	repo   Repository
	source string
}

// NewRecorder creates a recorder that tags entries with the manufacturer as source.
func NewRecorder(repo Repository, manufacturer dooraccess.Manufacturer) *Recorder {
	return &Recorder{repo: repo, source: strings.ToLower(string(manufacturer))}
}

// HandleAccessEvent stores the event under an ID derived from the event ID.
// The action is the lower-cased event type.
func (r *Recorder) HandleAccessEvent(event dooraccess.AccessEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	entityType := EntityDoor
	if event.DoorID == "" {
		entityType = EntityController
	}

	details := event.Data()
	if details == nil {
		details = map[string]any{}
	}
	details["event_id"] = event.ID
	if event.UserName != "" {
		details["user_name"] = event.UserName
	}

	// One row per event: a replayed or repeated delivery of the same
	// event hits the primary key instead of duplicating the row.
	log := &AuditLog{
		ID:         idPrefix + event.ID,
		Action:     strings.ToLower(string(event.Type)),
		EntityType: entityType,
		EntityID:   event.DoorID,
		UserID:     event.UserID,
		Source:     r.source,
		Details:    details,
		CreatedAt:  event.Timestamp,
	}
	if err := r.repo.Create(ctx, log); err != nil {
		return fmt.Errorf("recording %s event: %w", event.Type, err)
	}
	return nil
}
