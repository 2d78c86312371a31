package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/internal/notify"
	"github.com/presencepro/platform/pkg/config"
	appErrors "github.com/presencepro/platform/pkg/errors"
)

// notificationIDNamespace seeds deterministic task ids so re-delivery of the
// same logical notification lands on the same row.
var notificationIDNamespace = uuid.MustParse("8f3de169-41f2-4c6e-9a0b-5a4a4c2ce1d7")

type notificationTaskRepository interface {
	Upsert(ctx context.Context, task *models.NotificationTask) error
	FindByID(ctx context.Context, id string) (*models.NotificationTask, error)
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string, retryCount int) error
	MarkCancelled(ctx context.Context, id string) error
	ScheduleRetry(ctx context.Context, id, errMsg string, retryCount int, nextRetryAt time.Time) error
	DueRetries(ctx context.Context, now time.Time, limit int) ([]models.NotificationTask, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationTask, int, error)
	CountForRecipient(ctx context.Context, recipient string, since time.Time) (int, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type preferenceRepository interface {
	Find(ctx context.Context, recipient string) (*models.NotificationPreference, error)
	Upsert(ctx context.Context, pref *models.NotificationPreference) error
	DigestRecipients(ctx context.Context) ([]models.NotificationPreference, error)
}

// TaskQueue submits persisted tasks to the channel-keyed worker queues.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *models.NotificationTask) error
}

// EnqueueParams describes one notification to create and queue.
type EnqueueParams struct {
	EventID      string
	Channel      models.Channel
	Recipient    string
	TemplateID   string
	TemplateData models.Payload
	Priority     int
}

// NotificationService owns the notification task lifecycle: creation,
// execution by the worker pool, retry bookkeeping and the periodic jobs.
type NotificationService struct {
	repo     notificationTaskRepository
	prefs    preferenceRepository
	queue    TaskQueue
	senders  map[models.Channel]notify.Sender
	renderer *notify.TemplateRenderer
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      config.NotifierConfig
}

// NewNotificationService constructs a NotificationService instance.
func NewNotificationService(
	repo notificationTaskRepository,
	prefs preferenceRepository,
	queue TaskQueue,
	senders map[models.Channel]notify.Sender,
	renderer *notify.TemplateRenderer,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg config.NotifierConfig,
) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Minute
	}
	return &NotificationService{
		repo:     repo,
		prefs:    prefs,
		queue:    queue,
		senders:  senders,
		renderer: renderer,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// TaskID derives the content-addressed id for a logical notification.
func TaskID(eventID string, channel models.Channel, recipient, templateID string) string {
	seed := fmt.Sprintf("%s|%s|%s|%s", eventID, channel, recipient, templateID)
	return uuid.NewSHA1(notificationIDNamespace, []byte(seed)).String()
}

// Enqueue persists a pending task and submits it to its channel queue.
func (s *NotificationService) Enqueue(ctx context.Context, p EnqueueParams) (*models.NotificationTask, error) {
	if p.Recipient == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notification recipient is required")
	}
	if !s.renderer.Has(p.TemplateID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown template %q", p.TemplateID))
	}

	id := TaskID(p.EventID, p.Channel, p.Recipient, p.TemplateID)
	if p.EventID == "" {
		id = uuid.NewString()
	}

	task := &models.NotificationTask{
		ID:           id,
		Channel:      p.Channel,
		Recipient:    p.Recipient,
		TemplateID:   p.TemplateID,
		TemplateData: p.TemplateData,
		Priority:     p.Priority,
		Status:       models.NotificationPending,
		MaxRetries:   s.cfg.MaxRetries,
	}
	if p.EventID != "" {
		task.EventID = &p.EventID
	}

	if err := s.repo.Upsert(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist notification task")
	}

	if err := s.queue.Enqueue(ctx, task); err != nil {
		// The row is durable; the due-retry sweep will never see it (it is
		// pending, not retry), so surface the error to the caller.
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue notification task")
	}

	return task, nil
}

// Execute performs one delivery attempt for a task. Called by the worker
// pool; every failure is converted into a task-status transition and never
// propagated as a worker error.
func (s *NotificationService) Execute(ctx context.Context, id string) error {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("notification task vanished", zap.String("task_id", id))
			return nil
		}
		return fmt.Errorf("load notification task: %w", err)
	}

	if task.Status != models.NotificationPending && task.Status != models.NotificationRetry {
		return nil
	}

	pref, err := s.prefs.Find(ctx, task.Recipient)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load preference: %w", err)
	}
	if pref != nil && !pref.Allows(task.Channel) {
		if err := s.repo.MarkCancelled(ctx, task.ID); err != nil {
			return err
		}
		s.record(task.Channel, models.NotificationCancelled)
		return nil
	}

	subject, body, err := s.renderer.Render(task.TemplateID, task.TemplateData)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, task.ID, err.Error(), task.RetryCount); markErr != nil {
			return markErr
		}
		s.record(task.Channel, models.NotificationFailed)
		return nil
	}

	sender, ok := s.senders[task.Channel]
	if !ok {
		if markErr := s.repo.MarkFailed(ctx, task.ID, fmt.Sprintf("no sender for channel %q", task.Channel), task.RetryCount); markErr != nil {
			return markErr
		}
		s.record(task.Channel, models.NotificationFailed)
		return nil
	}

	providerID, err := sender.Send(ctx, notify.Message{
		Channel:   task.Channel,
		Recipient: task.Recipient,
		Subject:   subject,
		Body:      body,
	})
	if err != nil {
		return s.handleSendFailure(ctx, task, err)
	}

	if err := s.repo.MarkSent(ctx, task.ID, providerID, time.Now().UTC()); err != nil {
		return err
	}
	s.record(task.Channel, models.NotificationSent)
	return nil
}

// handleSendFailure applies the retry policy: transient failures back off
// exponentially until max retries, permanent ones fail immediately.
func (s *NotificationService) handleSendFailure(ctx context.Context, task *models.NotificationTask, sendErr error) error {
	if notify.IsPermanent(sendErr) {
		if err := s.repo.MarkFailed(ctx, task.ID, sendErr.Error(), task.RetryCount); err != nil {
			return err
		}
		s.record(task.Channel, models.NotificationFailed)
		return nil
	}

	newCount := task.RetryCount + 1
	if newCount >= task.MaxRetries {
		if err := s.repo.MarkFailed(ctx, task.ID, sendErr.Error(), newCount); err != nil {
			return err
		}
		s.record(task.Channel, models.NotificationFailed)
		s.logger.Error("notification exhausted retries",
			zap.String("task_id", task.ID),
			zap.String("channel", string(task.Channel)),
			zap.Int("retries", newCount),
			zap.Error(sendErr),
		)
		return nil
	}

	backoff := time.Duration(math.Pow(2, float64(task.RetryCount))) * s.cfg.RetryBaseDelay
	nextRetry := time.Now().UTC().Add(backoff)
	if err := s.repo.ScheduleRetry(ctx, task.ID, sendErr.Error(), newCount, nextRetry); err != nil {
		return err
	}
	s.record(task.Channel, models.NotificationRetry)
	s.logger.Warn("notification send failed, retry scheduled",
		zap.String("task_id", task.ID),
		zap.String("channel", string(task.Channel)),
		zap.Int("retry_count", newCount),
		zap.Time("next_retry_at", nextRetry),
		zap.Error(sendErr),
	)
	return nil
}

// ResubmitDueRetries re-queues all retry tasks whose backoff has elapsed.
func (s *NotificationService) ResubmitDueRetries(ctx context.Context) (int, error) {
	tasks, err := s.repo.DueRetries(ctx, time.Now().UTC(), 500)
	if err != nil {
		return 0, err
	}

	resubmitted := 0
	for i := range tasks {
		if err := s.queue.Enqueue(ctx, &tasks[i]); err != nil {
			s.logger.Warn("failed to resubmit retry task", zap.String("task_id", tasks[i].ID), zap.Error(err))
			continue
		}
		resubmitted++
	}
	return resubmitted, nil
}

// CompileDigests enqueues one daily digest email per recipient with the
// digest preference enabled. Recipients with no activity are skipped.
func (s *NotificationService) CompileDigests(ctx context.Context) (int, error) {
	return s.compileSummaries(ctx, 24*time.Hour, "daily_digest_email_fr")
}

// CompileWeeklyReports enqueues the weekly activity report emails.
func (s *NotificationService) CompileWeeklyReports(ctx context.Context) (int, error) {
	return s.compileSummaries(ctx, 7*24*time.Hour, "weekly_report_email_fr")
}

func (s *NotificationService) compileSummaries(ctx context.Context, window time.Duration, templateID string) (int, error) {
	prefs, err := s.prefs.DigestRecipients(ctx)
	if err != nil {
		return 0, err
	}

	since := time.Now().UTC().Add(-window)
	compiled := 0
	for _, pref := range prefs {
		sent, failed, err := s.repo.CountForRecipient(ctx, pref.Recipient, since)
		if err != nil {
			s.logger.Warn("failed to count digest activity", zap.String("recipient", pref.Recipient), zap.Error(err))
			continue
		}
		if sent == 0 && failed == 0 {
			continue
		}

		// Anchor the id on the window start so reruns within the same
		// window update the same task instead of duplicating it.
		digestKey := fmt.Sprintf("digest-%s-%d", templateID, since.Unix()/int64(window.Seconds()))
		if _, err := s.Enqueue(ctx, EnqueueParams{
			EventID:    digestKey,
			Channel:    models.ChannelEmail,
			Recipient:  pref.Recipient,
			TemplateID: templateID,
			TemplateData: models.Payload{
				"sent_count":   sent,
				"failed_count": failed,
			},
		}); err != nil {
			s.logger.Warn("failed to enqueue digest", zap.String("recipient", pref.Recipient), zap.Error(err))
			continue
		}
		compiled++
	}
	return compiled, nil
}

// Cleanup purges terminal tasks past the retention window.
func (s *NotificationService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.NotificationRetention)
	return s.repo.DeleteOlderThan(ctx, cutoff)
}

// Get returns one task.
func (s *NotificationService) Get(ctx context.Context, id string) (*models.NotificationTask, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	return task, nil
}

// List returns tasks matching the filter.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationTask, *models.Pagination, error) {
	tasks, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return tasks, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Cancel aborts a task that has not reached a terminal state.
func (s *NotificationService) Cancel(ctx context.Context, id string) error {
	task, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != models.NotificationPending && task.Status != models.NotificationRetry {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("notification is already %s", task.Status))
	}
	if err := s.repo.MarkCancelled(ctx, task.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel notification")
	}
	s.record(task.Channel, models.NotificationCancelled)
	return nil
}

// GetPreference returns the stored preference for a recipient, or the
// permissive default when none exists.
func (s *NotificationService) GetPreference(ctx context.Context, recipient string) (*models.NotificationPreference, error) {
	pref, err := s.prefs.Find(ctx, recipient)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.NotificationPreference{
				Recipient:    recipient,
				EmailEnabled: true,
				SMSEnabled:   true,
				PushEnabled:  true,
			}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preference")
	}
	return pref, nil
}

// UpdatePreference stores the preference for a recipient.
func (s *NotificationService) UpdatePreference(ctx context.Context, pref *models.NotificationPreference) error {
	if pref.Recipient == "" {
		return appErrors.Clone(appErrors.ErrValidation, "recipient is required")
	}
	if err := s.prefs.Upsert(ctx, pref); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store preference")
	}
	return nil
}

func (s *NotificationService) record(channel models.Channel, status models.NotificationStatus) {
	if s.metrics != nil {
		s.metrics.RecordTask(string(channel), string(status))
	}
}
