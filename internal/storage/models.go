package storage

import (
	"encoding/json"
	"time"
)

// Keys persisted by the rolling counter store
const (
	KeyDeviceID = "id_code"
	KeyRolling  = "rolling"
)

// EventSource represents the source of an event
type EventSource string

const (
	EventSourceDoor   EventSource = "door"
	EventSourceMatter EventSource = "matter"
	EventSourceUser   EventSource = "user"
	EventSourceSystem EventSource = "system"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeStateChange EventType = "state_change"
	EventTypeCommand     EventType = "command"
	EventTypeConnection  EventType = "connection"
	EventTypeError       EventType = "error"
	EventTypeInfo        EventType = "info"
)

// EventLog represents a log entry
type EventLog struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    EventSource     `json:"source"`
	EventType EventType       `json:"event_type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// EventLogFilter for querying events
type EventLogFilter struct {
	Source    *EventSource
	EventType *EventType
	Since     *time.Time
	Limit     int
	Offset    int
}
