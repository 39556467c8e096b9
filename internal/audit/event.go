package audit

import (
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeDecision       EventType = "decision"
	EventTypeMutation       EventType = "mutation"
	EventTypeSystemStartup  EventType = "system_startup"
	EventTypeSystemShutdown EventType = "system_shutdown"
)

// Event represents a generic audit event
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	EventID   string                 `json:"event_id"`
	RequestID string                 `json:"request_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// DecisionEvent records one permission evaluation
type DecisionEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  EventType `json:"event_type"`
	EventID    string    `json:"event_id"`
	RequestID  string    `json:"request_id,omitempty"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resource_id,omitempty"`
	Decision   string    `json:"decision"`
	PolicyID   string    `json:"policy_id,omitempty"`
	PolicyName string    `json:"policy_name,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CacheHit   bool      `json:"cache_hit"`
	DurationUs float64   `json:"duration_us,omitempty"`
}

// MutationEvent records a change to policies, roles, or assignments
type MutationEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	EventID   string                 `json:"event_id"`
	RequestID string                 `json:"request_id,omitempty"`
	Operation string                 `json:"operation"`
	Entity    string                 `json:"entity"`
	EntityID  string                 `json:"entity_id,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Changes   map[string]interface{} `json:"changes,omitempty"`
}
