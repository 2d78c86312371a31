package models

import "time"

// EventType enumerates the domain events the dispatch pipeline understands.
type EventType string

const (
	EventAbsenceDetected        EventType = "absence_detected"
	EventJustificationSubmitted EventType = "justification_submitted"
	EventJustificationApproved  EventType = "justification_approved"
	EventJustificationRejected  EventType = "justification_rejected"
	EventMessageReceived        EventType = "message_received"
)

// Known reports whether the event type has a registered handler. Unknown
// types are logged and acknowledged without being queued.
func (t EventType) Known() bool {
	switch t {
	case EventAbsenceDetected, EventJustificationSubmitted, EventJustificationApproved,
		EventJustificationRejected, EventMessageReceived:
		return true
	}
	return false
}

// EventStatus is the lifecycle state of a queued event.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
)

// EventQueueEntry is a durably persisted domain event awaiting dispatch.
type EventQueueEntry struct {
	ID            string      `db:"id" json:"id"`
	SourceService string      `db:"source_service" json:"source_service"`
	EventType     EventType   `db:"event_type" json:"event_type"`
	Payload       Payload     `db:"payload" json:"payload"`
	Status        EventStatus `db:"status" json:"status"`
	ErrorMessage  *string     `db:"error_message" json:"error_message,omitempty"`
	RetryCount    int         `db:"retry_count" json:"retry_count"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	ProcessedAt   *time.Time  `db:"processed_at" json:"processed_at,omitempty"`
}

// IngestEventRequest is the webhook body posted by sibling services.
type IngestEventRequest struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type" validate:"required"`
	SourceService string                 `json:"source_service" validate:"required"`
	Data          map[string]interface{} `json:"data"`
}

// IngestResult summarises what ingestion did with an event.
type IngestResult struct {
	EventID      string      `json:"event_id,omitempty"`
	Status       EventStatus `json:"status,omitempty"`
	Ignored      bool        `json:"ignored,omitempty"`
	Duplicate    bool        `json:"duplicate,omitempty"`
	TasksCreated int         `json:"tasks_created"`
}

// EventFilter captures filtering criteria for listing queued events.
type EventFilter struct {
	Status   *EventStatus
	Type     *EventType
	Source   string
	Page     int
	PageSize int
}
