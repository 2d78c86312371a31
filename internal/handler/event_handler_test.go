package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/internal/service"
	"github.com/presencepro/platform/pkg/config"
)

type eventRepoStub struct {
	events map[string]*models.EventQueueEntry
}

func newEventRepoStub() *eventRepoStub {
	return &eventRepoStub{events: make(map[string]*models.EventQueueEntry)}
}

func (s *eventRepoStub) Insert(ctx context.Context, entry *models.EventQueueEntry) (bool, error) {
	if _, ok := s.events[entry.ID]; ok {
		return false, nil
	}
	clone := *entry
	s.events[entry.ID] = &clone
	return true, nil
}

func (s *eventRepoStub) FindByID(ctx context.Context, id string) (*models.EventQueueEntry, error) {
	entry, ok := s.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *entry
	return &clone, nil
}

func (s *eventRepoStub) MarkProcessing(ctx context.Context, id string) error {
	s.events[id].Status = models.EventProcessing
	return nil
}

func (s *eventRepoStub) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	s.events[id].Status = models.EventProcessed
	s.events[id].ProcessedAt = &at
	return nil
}

func (s *eventRepoStub) MarkFailed(ctx context.Context, id string, errMsg string) error {
	s.events[id].Status = models.EventFailed
	s.events[id].ErrorMessage = &errMsg
	return nil
}

func (s *eventRepoStub) List(ctx context.Context, filter models.EventFilter) ([]models.EventQueueEntry, int, error) {
	var out []models.EventQueueEntry
	for _, entry := range s.events {
		out = append(out, *entry)
	}
	return out, len(out), nil
}

func (s *eventRepoStub) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type enqueuerStub struct {
	created int
}

func (s *enqueuerStub) Enqueue(ctx context.Context, p service.EnqueueParams) (*models.NotificationTask, error) {
	s.created++
	return &models.NotificationTask{ID: "task"}, nil
}

func newEventRouter(t *testing.T, allowUnsigned bool) (*gin.Engine, *service.SignatureVerifier, *enqueuerStub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enqueuer := &enqueuerStub{}
	cfg := config.NotifierConfig{AdminEmail: "admin@school.example"}
	dispatch := service.NewDispatchService(newEventRepoStub(), enqueuer, validator.New(), nil, zap.NewNop(), cfg)
	signature := service.NewSignatureVerifier("topsecret", allowUnsigned)
	h := NewEventHandler(dispatch, signature)

	r := gin.New()
	r.POST("/api/v1/events", h.Ingest)
	r.GET("/api/v1/events/:id", h.Get)
	return r, signature, enqueuer
}

func ingestBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(models.IngestEventRequest{
		EventID:       "evt-1",
		EventType:     "absence_detected",
		SourceService: "attendance-service",
		Data: map[string]interface{}{
			"student_name":  "Amina Diallo",
			"parent_emails": []string{"parent@example.com"},
		},
	})
	require.NoError(t, err)
	return body
}

func TestIngestEndpointAcceptsSignedEvent(t *testing.T) {
	r, signature, enqueuer := newEventRouter(t, false)
	body := ingestBody(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature.Sign(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, enqueuer.created)
	assert.Contains(t, w.Body.String(), `"tasks_created":1`)
}

func TestIngestEndpointRejectsUnsignedEvent(t *testing.T) {
	r, _, enqueuer := newEventRouter(t, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(ingestBody(t)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, enqueuer.created)
}

func TestIngestEndpointAllowsUnsignedWhenConfigured(t *testing.T) {
	r, _, _ := newEventRouter(t, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(ingestBody(t)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestIngestEndpointRejectsTamperedBody(t *testing.T) {
	r, signature, _ := newEventRouter(t, false)
	body := ingestBody(t)

	tampered := bytes.Replace(body, []byte("Amina"), []byte("Other"), 1)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(tampered))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature.Sign(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetEventEndpointReturns404ForUnknownID(t *testing.T) {
	r, _, _ := newEventRouter(t, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
