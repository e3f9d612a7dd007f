package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Config lifecycle events
	EventTypeConfigCreate EventType = "config.create"
	EventTypeConfigUpdate EventType = "config.update"
	EventTypeConfigDelete EventType = "config.delete"

	// Login flow events
	EventTypeLoginStart    EventType = "login.start"
	EventTypeLoginSuccess  EventType = "login.success"
	EventTypeLoginFailed   EventType = "login.failed"
	EventTypeTokenIssued   EventType = "token.issued"
	EventTypeTokenDenied   EventType = "token.denied"
	EventTypeLogoutCreated EventType = "logout.created"
	EventTypeLogoutDone    EventType = "logout.completed"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Connection the event belongs to
	Tenant   string `json:"tenant,omitempty"`
	Product  string `json:"product,omitempty"`
	ClientID string `json:"client_id,omitempty"`

	// Authenticated principal, when known
	Subject string `json:"subject,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`

	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching audit events
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	Tenant  string
	Product string

	EventTypes []EventType
	Status     EventStatus

	Limit  int
	Offset int
}
