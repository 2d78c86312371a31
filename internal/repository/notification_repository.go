package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/presencepro/platform/internal/models"
)

// NotificationRepository provides database access for notification tasks.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new instance of NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Upsert persists a task. Ids are content-addressed, so re-delivery of the
// same logical notification updates the existing row instead of duplicating.
func (r *NotificationRepository) Upsert(ctx context.Context, task *models.NotificationTask) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = models.NotificationPending
	}

	const query = `INSERT INTO notification_tasks (id, event_id, channel, recipient, template_id, template_data, priority, status, retry_count, max_retries, created_at, updated_at)
		VALUES (:id, :event_id, :channel, :recipient, :template_id, :template_data, :priority, :status, :retry_count, :max_retries, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET template_data = EXCLUDED.template_data, priority = EXCLUDED.priority, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("upsert notification task: %w", err)
	}
	return nil
}

// FindByID returns a task by identifier.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*models.NotificationTask, error) {
	const query = `SELECT id, event_id, channel, recipient, template_id, template_data, priority, status, retry_count, max_retries, next_retry_at, provider_message_id, error_message, created_at, updated_at, sent_at FROM notification_tasks WHERE id = $1 LIMIT 1`
	var task models.NotificationTask
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find notification task: %w", err)
	}
	return &task, nil
}

// MarkSent records terminal delivery success with the provider's message id.
func (r *NotificationRepository) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	const query = `UPDATE notification_tasks SET status = $2, provider_message_id = $3, sent_at = $4, updated_at = $4, error_message = NULL, next_retry_at = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.NotificationSent, providerMessageID, at); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records terminal failure with the final attempt count; no
// further retry is scheduled.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id, errMsg string, retryCount int) error {
	const query = `UPDATE notification_tasks SET status = $2, error_message = $3, retry_count = $4, next_retry_at = NULL, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.NotificationFailed, errMsg, retryCount, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// MarkCancelled records that the recipient's preferences skipped delivery.
func (r *NotificationRepository) MarkCancelled(ctx context.Context, id string) error {
	const query = `UPDATE notification_tasks SET status = $2, next_retry_at = NULL, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.NotificationCancelled, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark notification cancelled: %w", err)
	}
	return nil
}

// ScheduleRetry increments the retry counter and parks the task until the
// backoff deadline. The periodic sweep re-submits it once due.
func (r *NotificationRepository) ScheduleRetry(ctx context.Context, id, errMsg string, retryCount int, nextRetryAt time.Time) error {
	const query = `UPDATE notification_tasks SET status = $2, error_message = $3, retry_count = $4, next_retry_at = $5, updated_at = $6 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.NotificationRetry, errMsg, retryCount, nextRetryAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("schedule notification retry: %w", err)
	}
	return nil
}

// DueRetries returns retry tasks whose backoff deadline has passed, highest
// priority first.
func (r *NotificationRepository) DueRetries(ctx context.Context, now time.Time, limit int) ([]models.NotificationTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id, event_id, channel, recipient, template_id, template_data, priority, status, retry_count, max_retries, next_retry_at, provider_message_id, error_message, created_at, updated_at, sent_at FROM notification_tasks WHERE status = $1 AND next_retry_at <= $2 ORDER BY priority DESC, next_retry_at ASC LIMIT %d`, limit)
	var tasks []models.NotificationTask
	if err := r.db.SelectContext(ctx, &tasks, query, models.NotificationRetry, now); err != nil {
		return nil, fmt.Errorf("list due retries: %w", err)
	}
	return tasks, nil
}

// List returns tasks based on filters with total count.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationTask, int, error) {
	baseQuery := `FROM notification_tasks WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Channel != nil {
		conditions = append(conditions, fmt.Sprintf("channel = $%d", len(args)+1))
		args = append(args, *filter.Channel)
	}
	if filter.Recipient != "" {
		conditions = append(conditions, fmt.Sprintf("recipient = $%d", len(args)+1))
		args = append(args, filter.Recipient)
	}
	if filter.EventID != "" {
		conditions = append(conditions, fmt.Sprintf("event_id = $%d", len(args)+1))
		args = append(args, filter.EventID)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, event_id, channel, recipient, template_id, template_data, priority, status, retry_count, max_retries, next_retry_at, provider_message_id, error_message, created_at, updated_at, sent_at %s ORDER BY created_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var tasks []models.NotificationTask
	if err := r.db.SelectContext(ctx, &tasks, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list notification tasks: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count notification tasks: %w", err)
	}

	return tasks, total, nil
}

// CountForRecipient returns how many tasks reached a terminal state for the
// recipient since the given time. Used by digest compilation.
func (r *NotificationRepository) CountForRecipient(ctx context.Context, recipient string, since time.Time) (sent int, failed int, err error) {
	const query = `SELECT
		COUNT(*) FILTER (WHERE status = $3) AS sent,
		COUNT(*) FILTER (WHERE status = $4) AS failed
		FROM notification_tasks WHERE recipient = $1 AND created_at >= $2`
	row := r.db.QueryRowxContext(ctx, query, recipient, since, models.NotificationSent, models.NotificationFailed)
	if err := row.Scan(&sent, &failed); err != nil {
		return 0, 0, fmt.Errorf("count notifications for recipient: %w", err)
	}
	return sent, failed, nil
}

// DeleteOlderThan removes terminal tasks created before the cutoff.
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM notification_tasks WHERE created_at < $1 AND status IN ($2, $3, $4)`
	result, err := r.db.ExecContext(ctx, query, cutoff, models.NotificationSent, models.NotificationFailed, models.NotificationCancelled)
	if err != nil {
		return 0, fmt.Errorf("delete old notification tasks: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old notification tasks rows affected: %w", err)
	}
	return affected, nil
}
