package models

import "time"

// EventType identifies engine events broadcast to dashboard subscribers
type EventType string

const (
	EventJobCreated          EventType = "job_created"
	EventUnitServed          EventType = "unit_served"
	EventAnnotationSubmitted EventType = "annotation_submitted"
	EventCoderDisqualified   EventType = "coder_disqualified"
)

// Event is an in-process notification fanned out over WebSocket
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	JobID     int64                  `json:"job_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
