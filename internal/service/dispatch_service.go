package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/pkg/config"
	appErrors "github.com/presencepro/platform/pkg/errors"
)

type eventRepository interface {
	Insert(ctx context.Context, entry *models.EventQueueEntry) (bool, error)
	FindByID(ctx context.Context, id string) (*models.EventQueueEntry, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	List(ctx context.Context, filter models.EventFilter) ([]models.EventQueueEntry, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type notificationEnqueuer interface {
	Enqueue(ctx context.Context, p EnqueueParams) (*models.NotificationTask, error)
}

// DispatchService ingests domain events from sibling services and fans each
// one out into the notification tasks its type calls for.
type DispatchService struct {
	repo     eventRepository
	notifier notificationEnqueuer
	validate *validator.Validate
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      config.NotifierConfig
}

// NewDispatchService constructs a DispatchService instance.
func NewDispatchService(
	repo eventRepository,
	notifier notificationEnqueuer,
	validate *validator.Validate,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg config.NotifierConfig,
) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		repo:     repo,
		notifier: notifier,
		validate: validate,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Ingest validates, persists and dispatches one incoming event. Unknown
// event types are acknowledged and dropped so producers never have to care
// about consumer versions. Duplicate ids are acknowledged without re-dispatch.
func (s *DispatchService) Ingest(ctx context.Context, req *models.IngestEventRequest) (*models.IngestResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	eventType := models.EventType(req.EventType)
	if !eventType.Known() {
		s.logger.Warn("ignoring unknown event type",
			zap.String("event_type", req.EventType),
			zap.String("source_service", req.SourceService),
		)
		s.recordEvent(req.EventType, "ignored")
		return &models.IngestResult{Ignored: true}, nil
	}

	id := req.EventID
	if id == "" {
		id = uuid.NewString()
	}

	entry := &models.EventQueueEntry{
		ID:            id,
		SourceService: req.SourceService,
		EventType:     eventType,
		Payload:       models.Payload(req.Data),
		Status:        models.EventProcessing,
		CreatedAt:     time.Now().UTC(),
	}

	inserted, err := s.repo.Insert(ctx, entry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist event")
	}
	if !inserted {
		s.recordEvent(req.EventType, "duplicate")
		return &models.IngestResult{EventID: id, Duplicate: true}, nil
	}

	created, dispatchErr := s.dispatch(ctx, entry)
	if dispatchErr != nil {
		if markErr := s.repo.MarkFailed(ctx, id, dispatchErr.Error()); markErr != nil {
			s.logger.Error("failed to mark event failed", zap.String("event_id", id), zap.Error(markErr))
		}
		s.recordEvent(req.EventType, "failed")
		return nil, appErrors.Wrap(dispatchErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dispatch event")
	}

	if err := s.repo.MarkProcessed(ctx, id, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize event")
	}
	s.recordEvent(req.EventType, "processed")

	return &models.IngestResult{
		EventID:      id,
		Status:       models.EventProcessed,
		TasksCreated: created,
	}, nil
}

// Replay re-dispatches a previously failed event.
func (s *DispatchService) Replay(ctx context.Context, id string) (*models.IngestResult, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	if entry.Status != models.EventFailed {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("event is %s, only failed events can be replayed", entry.Status))
	}

	if err := s.repo.MarkProcessing(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark event processing")
	}

	created, dispatchErr := s.dispatch(ctx, entry)
	if dispatchErr != nil {
		if markErr := s.repo.MarkFailed(ctx, id, dispatchErr.Error()); markErr != nil {
			s.logger.Error("failed to mark event failed", zap.String("event_id", id), zap.Error(markErr))
		}
		s.recordEvent(string(entry.EventType), "failed")
		return nil, appErrors.Wrap(dispatchErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replay event")
	}

	if err := s.repo.MarkProcessed(ctx, id, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize event")
	}
	s.recordEvent(string(entry.EventType), "replayed")

	return &models.IngestResult{
		EventID:      id,
		Status:       models.EventProcessed,
		TasksCreated: created,
	}, nil
}

// Get returns one queued event.
func (s *DispatchService) Get(ctx context.Context, id string) (*models.EventQueueEntry, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	return entry, nil
}

// List returns queued events matching the filter.
func (s *DispatchService) List(ctx context.Context, filter models.EventFilter) ([]models.EventQueueEntry, *models.Pagination, error) {
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return entries, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Cleanup purges terminal events past the retention window.
func (s *DispatchService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.EventRetention)
	return s.repo.DeleteOlderThan(ctx, cutoff)
}

// dispatch creates the notification tasks for one event. Payload fields that
// are missing simply shrink the fan-out; an event addressing nobody is still
// processed successfully with zero tasks.
func (s *DispatchService) dispatch(ctx context.Context, entry *models.EventQueueEntry) (int, error) {
	switch entry.EventType {
	case models.EventAbsenceDetected:
		return s.dispatchAbsenceDetected(ctx, entry)
	case models.EventJustificationSubmitted:
		return s.dispatchJustificationSubmitted(ctx, entry)
	case models.EventJustificationApproved:
		return s.dispatchJustificationDecision(ctx, entry, "justification_approved_email_fr", "justification_approved_push_fr")
	case models.EventJustificationRejected:
		return s.dispatchJustificationDecision(ctx, entry, "justification_rejected_email_fr", "justification_rejected_push_fr")
	case models.EventMessageReceived:
		return s.dispatchMessageReceived(ctx, entry)
	default:
		return 0, fmt.Errorf("no dispatcher for event type %q", entry.EventType)
	}
}

func (s *DispatchService) dispatchAbsenceDetected(ctx context.Context, entry *models.EventQueueEntry) (int, error) {
	created := 0
	for _, email := range stringSlice(entry.Payload, "parent_emails") {
		if _, err := s.notifier.Enqueue(ctx, EnqueueParams{
			EventID:      entry.ID,
			Channel:      models.ChannelEmail,
			Recipient:    email,
			TemplateID:   "absence_detected_email_fr",
			TemplateData: entry.Payload,
			Priority:     1,
		}); err != nil {
			return created, err
		}
		created++
	}
	for _, phone := range stringSlice(entry.Payload, "parent_phones") {
		if _, err := s.notifier.Enqueue(ctx, EnqueueParams{
			EventID:      entry.ID,
			Channel:      models.ChannelSMS,
			Recipient:    phone,
			TemplateID:   "absence_detected_sms_fr",
			TemplateData: entry.Payload,
			Priority:     1,
		}); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (s *DispatchService) dispatchJustificationSubmitted(ctx context.Context, entry *models.EventQueueEntry) (int, error) {
	recipient := stringValue(entry.Payload, "teacher_email")
	if recipient == "" {
		recipient = s.cfg.AdminEmail
	}
	if recipient == "" {
		return 0, nil
	}
	if _, err := s.notifier.Enqueue(ctx, EnqueueParams{
		EventID:      entry.ID,
		Channel:      models.ChannelEmail,
		Recipient:    recipient,
		TemplateID:   "justification_submitted_email_fr",
		TemplateData: entry.Payload,
	}); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *DispatchService) dispatchJustificationDecision(ctx context.Context, entry *models.EventQueueEntry, emailTemplate, pushTemplate string) (int, error) {
	created := 0
	for _, email := range stringSlice(entry.Payload, "parent_emails") {
		if _, err := s.notifier.Enqueue(ctx, EnqueueParams{
			EventID:      entry.ID,
			Channel:      models.ChannelEmail,
			Recipient:    email,
			TemplateID:   emailTemplate,
			TemplateData: entry.Payload,
		}); err != nil {
			return created, err
		}
		created++
	}
	if token := stringValue(entry.Payload, "student_device_token"); token != "" {
		if _, err := s.notifier.Enqueue(ctx, EnqueueParams{
			EventID:      entry.ID,
			Channel:      models.ChannelPush,
			Recipient:    token,
			TemplateID:   pushTemplate,
			TemplateData: entry.Payload,
		}); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (s *DispatchService) dispatchMessageReceived(ctx context.Context, entry *models.EventQueueEntry) (int, error) {
	if token := stringValue(entry.Payload, "recipient_device_token"); token != "" {
		if _, err := s.notifier.Enqueue(ctx, EnqueueParams{
			EventID:      entry.ID,
			Channel:      models.ChannelPush,
			Recipient:    token,
			TemplateID:   "message_received_push_fr",
			TemplateData: entry.Payload,
			Priority:     1,
		}); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if email := stringValue(entry.Payload, "recipient_email"); email != "" {
		if _, err := s.notifier.Enqueue(ctx, EnqueueParams{
			EventID:      entry.ID,
			Channel:      models.ChannelEmail,
			Recipient:    email,
			TemplateID:   "message_received_email_fr",
			TemplateData: entry.Payload,
		}); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, nil
}

func (s *DispatchService) recordEvent(eventType, result string) {
	if s.metrics != nil {
		s.metrics.RecordEvent(eventType, result)
	}
}

func stringSlice(p models.Payload, key string) []string {
	raw, ok := p[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func stringValue(p models.Payload, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
