package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/presencepro/platform/internal/models"
)

// EventRepository provides database access for the durable event queue.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new instance of EventRepository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert persists a new queue entry. The insert is idempotent on id: a second
// ingest of the same event id reports inserted=false and leaves the existing
// row untouched.
func (r *EventRepository) Insert(ctx context.Context, entry *models.EventQueueEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = models.EventPending
	}

	const query = `INSERT INTO event_queue (id, source_service, event_type, payload, status, retry_count, created_at) VALUES (:id, :source_service, :event_type, :payload, :status, :retry_count, :created_at) ON CONFLICT (id) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event rows affected: %w", err)
	}
	return affected > 0, nil
}

// FindByID returns a queue entry by identifier.
func (r *EventRepository) FindByID(ctx context.Context, id string) (*models.EventQueueEntry, error) {
	const query = `SELECT id, source_service, event_type, payload, status, error_message, retry_count, created_at, processed_at FROM event_queue WHERE id = $1 LIMIT 1`
	var entry models.EventQueueEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find event by id: %w", err)
	}
	return &entry, nil
}

// MarkProcessing transitions an entry to processing before dispatch.
func (r *EventRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `UPDATE event_queue SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.EventProcessing); err != nil {
		return fmt.Errorf("mark event processing: %w", err)
	}
	return nil
}

// MarkProcessed records terminal success for an entry.
func (r *EventRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE event_queue SET status = $2, processed_at = $3, error_message = NULL WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.EventProcessed, at); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// MarkFailed records a handler failure. Event-level processing is not
// automatically retried; the retry counter only tracks replay attempts.
func (r *EventRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	const query = `UPDATE event_queue SET status = $2, error_message = $3, retry_count = retry_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.EventFailed, errMsg); err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	return nil
}

// List returns queue entries based on filters with total count.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.EventQueueEntry, int, error) {
	baseQuery := `FROM event_queue WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}
	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source_service = $%d", len(args)+1))
		args = append(args, filter.Source)
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

	listQuery := fmt.Sprintf("SELECT id, source_service, event_type, payload, status, error_message, retry_count, created_at, processed_at %s ORDER BY created_at DESC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var entries []models.EventQueueEntry
	if err := r.db.SelectContext(ctx, &entries, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	return entries, total, nil
}

// DeleteOlderThan removes processed and failed entries created before the
// cutoff. Pending and processing entries are never swept.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM event_queue WHERE created_at < $1 AND status IN ($2, $3)`
	result, err := r.db.ExecContext(ctx, query, cutoff, models.EventProcessed, models.EventFailed)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old events rows affected: %w", err)
	}
	return affected, nil
}
