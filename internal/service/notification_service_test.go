package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/internal/notify"
	"github.com/presencepro/platform/pkg/config"
)

type mockTaskRepo struct {
	tasks map[string]*models.NotificationTask
	due   []models.NotificationTask
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{tasks: make(map[string]*models.NotificationTask)}
}

func (m *mockTaskRepo) Upsert(ctx context.Context, task *models.NotificationTask) error {
	clone := *task
	m.tasks[task.ID] = &clone
	return nil
}

func (m *mockTaskRepo) FindByID(ctx context.Context, id string) (*models.NotificationTask, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *task
	return &clone, nil
}

func (m *mockTaskRepo) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	task := m.tasks[id]
	task.Status = models.NotificationSent
	task.ProviderMessageID = &providerMessageID
	task.SentAt = &at
	return nil
}

func (m *mockTaskRepo) MarkFailed(ctx context.Context, id, errMsg string, retryCount int) error {
	task := m.tasks[id]
	task.Status = models.NotificationFailed
	task.ErrorMessage = &errMsg
	task.RetryCount = retryCount
	return nil
}

func (m *mockTaskRepo) MarkCancelled(ctx context.Context, id string) error {
	m.tasks[id].Status = models.NotificationCancelled
	return nil
}

func (m *mockTaskRepo) ScheduleRetry(ctx context.Context, id, errMsg string, retryCount int, nextRetryAt time.Time) error {
	task := m.tasks[id]
	task.Status = models.NotificationRetry
	task.ErrorMessage = &errMsg
	task.RetryCount = retryCount
	task.NextRetryAt = &nextRetryAt
	return nil
}

func (m *mockTaskRepo) DueRetries(ctx context.Context, now time.Time, limit int) ([]models.NotificationTask, error) {
	return m.due, nil
}

func (m *mockTaskRepo) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationTask, int, error) {
	var out []models.NotificationTask
	for _, task := range m.tasks {
		out = append(out, *task)
	}
	return out, len(out), nil
}

func (m *mockTaskRepo) CountForRecipient(ctx context.Context, recipient string, since time.Time) (int, int, error) {
	sent, failed := 0, 0
	for _, task := range m.tasks {
		if task.Recipient != recipient {
			continue
		}
		switch task.Status {
		case models.NotificationSent:
			sent++
		case models.NotificationFailed:
			failed++
		}
	}
	return sent, failed, nil
}

func (m *mockTaskRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockPrefRepo struct {
	prefs map[string]*models.NotificationPreference
}

func (m *mockPrefRepo) Find(ctx context.Context, recipient string) (*models.NotificationPreference, error) {
	pref, ok := m.prefs[recipient]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return pref, nil
}

func (m *mockPrefRepo) Upsert(ctx context.Context, pref *models.NotificationPreference) error {
	if m.prefs == nil {
		m.prefs = make(map[string]*models.NotificationPreference)
	}
	m.prefs[pref.Recipient] = pref
	return nil
}

func (m *mockPrefRepo) DigestRecipients(ctx context.Context) ([]models.NotificationPreference, error) {
	var out []models.NotificationPreference
	for _, pref := range m.prefs {
		if pref.DigestEnabled {
			out = append(out, *pref)
		}
	}
	return out, nil
}

type mockQueue struct {
	enqueued []string
	err      error
}

func (m *mockQueue) Enqueue(ctx context.Context, task *models.NotificationTask) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, task.ID)
	return nil
}

type mockSender struct {
	sent []notify.Message
	err  error
}

func (m *mockSender) Name() string { return "mock" }

func (m *mockSender) Send(ctx context.Context, msg notify.Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "provider-123", nil
}

func newTestNotificationService(t *testing.T, repo *mockTaskRepo, prefs *mockPrefRepo, queue *mockQueue, sender *mockSender) *NotificationService {
	t.Helper()
	renderer, err := notify.NewTemplateRenderer()
	require.NoError(t, err)
	senders := map[models.Channel]notify.Sender{
		models.ChannelEmail: sender,
		models.ChannelSMS:   sender,
		models.ChannelPush:  sender,
	}
	cfg := config.NotifierConfig{MaxRetries: 3, RetryBaseDelay: time.Minute}
	return NewNotificationService(repo, prefs, queue, senders, renderer, nil, zap.NewNop(), cfg)
}

func absencePayload() models.Payload {
	return models.Payload{
		"student_name": "Amina Diallo",
		"course_name":  "Mathematiques",
		"detected_at":  "2026-03-02 08:15",
	}
}

func TestEnqueueIsDeterministicPerLogicalNotification(t *testing.T) {
	repo := newMockTaskRepo()
	queue := &mockQueue{}
	svc := newTestNotificationService(t, repo, &mockPrefRepo{}, queue, &mockSender{})

	params := EnqueueParams{
		EventID:      "evt-1",
		Channel:      models.ChannelEmail,
		Recipient:    "parent@example.com",
		TemplateID:   "absence_detected_email_fr",
		TemplateData: absencePayload(),
	}

	first, err := svc.Enqueue(context.Background(), params)
	require.NoError(t, err)
	second, err := svc.Enqueue(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.tasks, 1)
	assert.Equal(t, models.NotificationPending, repo.tasks[first.ID].Status)
}

func TestEnqueueRejectsUnknownTemplate(t *testing.T) {
	svc := newTestNotificationService(t, newMockTaskRepo(), &mockPrefRepo{}, &mockQueue{}, &mockSender{})

	_, err := svc.Enqueue(context.Background(), EnqueueParams{
		EventID:    "evt-1",
		Channel:    models.ChannelEmail,
		Recipient:  "parent@example.com",
		TemplateID: "nope",
	})
	require.Error(t, err)
}

func TestExecuteMarksTaskSent(t *testing.T) {
	repo := newMockTaskRepo()
	sender := &mockSender{}
	svc := newTestNotificationService(t, repo, &mockPrefRepo{}, &mockQueue{}, sender)

	task, err := svc.Enqueue(context.Background(), EnqueueParams{
		EventID:      "evt-1",
		Channel:      models.ChannelEmail,
		Recipient:    "parent@example.com",
		TemplateID:   "absence_detected_email_fr",
		TemplateData: absencePayload(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Execute(context.Background(), task.ID))

	stored := repo.tasks[task.ID]
	assert.Equal(t, models.NotificationSent, stored.Status)
	require.NotNil(t, stored.ProviderMessageID)
	assert.Equal(t, "provider-123", *stored.ProviderMessageID)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Body, "Amina Diallo")
}

func TestExecuteSchedulesRetryOnTransientFailure(t *testing.T) {
	repo := newMockTaskRepo()
	sender := &mockSender{err: errors.New("smtp timeout")}
	svc := newTestNotificationService(t, repo, &mockPrefRepo{}, &mockQueue{}, sender)

	task, err := svc.Enqueue(context.Background(), EnqueueParams{
		EventID:      "evt-1",
		Channel:      models.ChannelEmail,
		Recipient:    "parent@example.com",
		TemplateID:   "absence_detected_email_fr",
		TemplateData: absencePayload(),
	})
	require.NoError(t, err)

	before := time.Now().UTC()
	require.NoError(t, svc.Execute(context.Background(), task.ID))

	stored := repo.tasks[task.ID]
	assert.Equal(t, models.NotificationRetry, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.WithinDuration(t, before.Add(time.Minute), *stored.NextRetryAt, 5*time.Second)
}

func TestExecuteFailsAfterMaxRetries(t *testing.T) {
	repo := newMockTaskRepo()
	sender := &mockSender{err: errors.New("smtp timeout")}
	svc := newTestNotificationService(t, repo, &mockPrefRepo{}, &mockQueue{}, sender)

	task, err := svc.Enqueue(context.Background(), EnqueueParams{
		EventID:      "evt-1",
		Channel:      models.ChannelEmail,
		Recipient:    "parent@example.com",
		TemplateID:   "absence_detected_email_fr",
		TemplateData: absencePayload(),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Execute(context.Background(), task.ID))
	}

	stored := repo.tasks[task.ID]
	assert.Equal(t, models.NotificationFailed, stored.Status)
	assert.Equal(t, stored.MaxRetries, stored.RetryCount)
}

func TestExecuteFailsImmediatelyOnPermanentError(t *testing.T) {
	repo := newMockTaskRepo()
	sender := &mockSender{err: notify.Permanent(errors.New("invalid address"))}
	svc := newTestNotificationService(t, repo, &mockPrefRepo{}, &mockQueue{}, sender)

	task, err := svc.Enqueue(context.Background(), EnqueueParams{
		EventID:      "evt-1",
		Channel:      models.ChannelEmail,
		Recipient:    "not-an-address",
		TemplateID:   "absence_detected_email_fr",
		TemplateData: absencePayload(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Execute(context.Background(), task.ID))

	stored := repo.tasks[task.ID]
	assert.Equal(t, models.NotificationFailed, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
}

func TestExecuteCancelsWhenPreferenceDisablesChannel(t *testing.T) {
	repo := newMockTaskRepo()
	prefs := &mockPrefRepo{prefs: map[string]*models.NotificationPreference{
		"parent@example.com": {Recipient: "parent@example.com", EmailEnabled: false, SMSEnabled: true, PushEnabled: true},
	}}
	sender := &mockSender{}
	svc := newTestNotificationService(t, repo, prefs, &mockQueue{}, sender)

	task, err := svc.Enqueue(context.Background(), EnqueueParams{
		EventID:      "evt-1",
		Channel:      models.ChannelEmail,
		Recipient:    "parent@example.com",
		TemplateID:   "absence_detected_email_fr",
		TemplateData: absencePayload(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Execute(context.Background(), task.ID))

	assert.Equal(t, models.NotificationCancelled, repo.tasks[task.ID].Status)
	assert.Empty(t, sender.sent)
}

func TestExecuteSkipsTerminalTask(t *testing.T) {
	repo := newMockTaskRepo()
	sender := &mockSender{}
	svc := newTestNotificationService(t, repo, &mockPrefRepo{}, &mockQueue{}, sender)

	task, err := svc.Enqueue(context.Background(), EnqueueParams{
		EventID:      "evt-1",
		Channel:      models.ChannelEmail,
		Recipient:    "parent@example.com",
		TemplateID:   "absence_detected_email_fr",
		TemplateData: absencePayload(),
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkCancelled(context.Background(), task.ID))

	require.NoError(t, svc.Execute(context.Background(), task.ID))

	assert.Equal(t, models.NotificationCancelled, repo.tasks[task.ID].Status)
	assert.Empty(t, sender.sent)
}

func TestCancelRejectsTerminalTask(t *testing.T) {
	repo := newMockTaskRepo()
	svc := newTestNotificationService(t, repo, &mockPrefRepo{}, &mockQueue{}, &mockSender{})

	task, err := svc.Enqueue(context.Background(), EnqueueParams{
		EventID:      "evt-1",
		Channel:      models.ChannelEmail,
		Recipient:    "parent@example.com",
		TemplateID:   "absence_detected_email_fr",
		TemplateData: absencePayload(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), task.ID))
	assert.Error(t, svc.Cancel(context.Background(), task.ID))
}

func TestResubmitDueRetriesRequeues(t *testing.T) {
	repo := newMockTaskRepo()
	repo.due = []models.NotificationTask{
		{ID: "t1", Channel: models.ChannelEmail},
		{ID: "t2", Channel: models.ChannelSMS},
	}
	queue := &mockQueue{}
	svc := newTestNotificationService(t, repo, &mockPrefRepo{}, queue, &mockSender{})

	n, err := svc.ResubmitDueRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"t1", "t2"}, queue.enqueued)
}

func TestCompileDigestsSkipsQuietRecipients(t *testing.T) {
	repo := newMockTaskRepo()
	prefs := &mockPrefRepo{prefs: map[string]*models.NotificationPreference{
		"active@example.com": {Recipient: "active@example.com", EmailEnabled: true, DigestEnabled: true},
		"quiet@example.com":  {Recipient: "quiet@example.com", EmailEnabled: true, DigestEnabled: true},
	}}
	queue := &mockQueue{}
	svc := newTestNotificationService(t, repo, prefs, queue, &mockSender{})

	sentAt := time.Now().UTC()
	repo.tasks["existing"] = &models.NotificationTask{
		ID:        "existing",
		Channel:   models.ChannelEmail,
		Recipient: "active@example.com",
		Status:    models.NotificationSent,
		SentAt:    &sentAt,
	}

	n, err := svc.CompileDigests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetPreferenceDefaultsWhenMissing(t *testing.T) {
	svc := newTestNotificationService(t, newMockTaskRepo(), &mockPrefRepo{}, &mockQueue{}, &mockSender{})

	pref, err := svc.GetPreference(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.True(t, pref.EmailEnabled)
	assert.True(t, pref.SMSEnabled)
	assert.True(t, pref.PushEnabled)
	assert.False(t, pref.DigestEnabled)
}
