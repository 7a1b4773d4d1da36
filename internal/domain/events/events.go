// Package events fans engine progress events out to subscribers: the
// websocket stream, the progress webhook and in-process listeners.
package events

import (
	"time"
)

// Type names an event.
type Type string

const (
	InstanceCompleted   Type = "instanceCompleted"
	InstanceMissed      Type = "instanceMissed"
	InstanceRescheduled Type = "instanceRescheduled"
	InstanceDisplaced   Type = "instanceDisplaced"
	OccurrenceEscalated Type = "occurrenceEscalated"
	ScheduleGenerated   Type = "scheduleGenerated"
	BlueprintLoaded     Type = "blueprintLoaded"
	BlueprintRejected   Type = "blueprintRejected"
)

// Event is one progress notification.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	At         time.Time      `json:"at"`
	Date       string         `json:"date,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	TemplateID string         `json:"template_id,omitempty"`
	Category   string         `json:"category,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
