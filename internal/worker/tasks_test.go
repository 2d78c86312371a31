package worker

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presencepro/platform/internal/models"
)

func TestDeliverTaskRoundTrip(t *testing.T) {
	task, err := NewDeliverTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskNotificationDeliver, task.Type())

	id, err := ParseDeliverTask(task)
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
}

func TestParseDeliverTaskRejectsBadPayload(t *testing.T) {
	_, err := ParseDeliverTask(asynq.NewTask(TaskNotificationDeliver, []byte("not json")))
	assert.Error(t, err)

	_, err = ParseDeliverTask(asynq.NewTask(TaskNotificationDeliver, []byte(`{}`)))
	assert.Error(t, err)
}

func TestQueueForChannel(t *testing.T) {
	assert.Equal(t, QueueEmail, QueueFor(models.ChannelEmail))
	assert.Equal(t, QueueSMS, QueueFor(models.ChannelSMS))
	assert.Equal(t, QueuePush, QueueFor(models.ChannelPush))
	assert.Equal(t, QueueDefault, QueueFor(models.Channel("other")))
}
