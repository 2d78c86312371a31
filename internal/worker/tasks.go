package worker

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/presencepro/platform/internal/models"
)

// TaskNotificationDeliver is the asynq task type for one delivery attempt.
const TaskNotificationDeliver = "notification:deliver"

// Queue names, one per delivery channel so a flood on one channel cannot
// starve the others.
const (
	QueueEmail   = "email"
	QueueSMS     = "sms"
	QueuePush    = "push"
	QueueDefault = "events"
)

// deliverPayload is the wire body of a delivery task. Only the id crosses
// the queue; the authoritative task state lives in Postgres.
type deliverPayload struct {
	TaskID string `json:"task_id"`
}

// QueueFor maps a channel to its queue name.
func QueueFor(channel models.Channel) string {
	switch channel {
	case models.ChannelEmail:
		return QueueEmail
	case models.ChannelSMS:
		return QueueSMS
	case models.ChannelPush:
		return QueuePush
	default:
		return QueueDefault
	}
}

// NewDeliverTask builds the asynq task carrying one notification id.
func NewDeliverTask(taskID string) (*asynq.Task, error) {
	payload, err := json.Marshal(deliverPayload{TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("marshal deliver payload: %w", err)
	}
	return asynq.NewTask(TaskNotificationDeliver, payload), nil
}

// ParseDeliverTask extracts the notification id from a delivery task.
func ParseDeliverTask(t *asynq.Task) (string, error) {
	var p deliverPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return "", fmt.Errorf("unmarshal deliver payload: %w", err)
	}
	if p.TaskID == "" {
		return "", fmt.Errorf("deliver payload missing task_id")
	}
	return p.TaskID, nil
}
