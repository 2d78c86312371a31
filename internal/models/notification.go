package models

import "time"

// Channel is the outbound delivery channel for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// NotificationStatus is the lifecycle state of a notification task.
type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationSent      NotificationStatus = "sent"
	NotificationFailed    NotificationStatus = "failed"
	NotificationRetry     NotificationStatus = "retry"
	NotificationCancelled NotificationStatus = "cancelled"
)

// NotificationTask is a retryable outbound delivery owned by the worker pool.
// The id is content-addressed (event id + channel + recipient + template) so
// re-delivery of the same logical notification updates the same row.
type NotificationTask struct {
	ID                string             `db:"id" json:"id"`
	EventID           *string            `db:"event_id" json:"event_id,omitempty"`
	Channel           Channel            `db:"channel" json:"channel"`
	Recipient         string             `db:"recipient" json:"recipient"`
	TemplateID        string             `db:"template_id" json:"template_id"`
	TemplateData      Payload            `db:"template_data" json:"template_data"`
	Priority          int                `db:"priority" json:"priority"`
	Status            NotificationStatus `db:"status" json:"status"`
	RetryCount        int                `db:"retry_count" json:"retry_count"`
	MaxRetries        int                `db:"max_retries" json:"max_retries"`
	NextRetryAt       *time.Time         `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ProviderMessageID *string            `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ErrorMessage      *string            `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
	SentAt            *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
}

// NotificationFilter captures filtering criteria for listing tasks.
type NotificationFilter struct {
	Status    *NotificationStatus
	Channel   *Channel
	Recipient string
	EventID   string
	Page      int
	PageSize  int
}
