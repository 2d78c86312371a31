package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/internal/service"
	appErrors "github.com/presencepro/platform/pkg/errors"
	"github.com/presencepro/platform/pkg/response"
)

// maxEventBodyBytes bounds webhook bodies.
const maxEventBodyBytes = 1 << 20

// EventHandler exposes the event ingestion webhook and admin endpoints.
type EventHandler struct {
	dispatch  *service.DispatchService
	signature *service.SignatureVerifier
}

// NewEventHandler constructs handler.
func NewEventHandler(dispatch *service.DispatchService, signature *service.SignatureVerifier) *EventHandler {
	return &EventHandler{dispatch: dispatch, signature: signature}
}

// Ingest godoc
// @Summary Ingest a domain event
// @Tags Events
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string false "HMAC-SHA256 body signature"
// @Param payload body models.IngestEventRequest true "Event payload"
// @Success 202 {object} response.Envelope
// @Router /events [post]
func (h *EventHandler) Ingest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBodyBytes))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read request body"))
		return
	}

	if err := h.signature.Verify(body, c.GetHeader("X-Webhook-Signature")); err != nil {
		response.Error(c, err)
		return
	}

	var req models.IngestEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	result, err := h.dispatch.Ingest(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, result, nil)
}

// List godoc
// @Summary List queued events
// @Tags Events
// @Produce json
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by event type"
// @Param source query string false "Filter by source service"
// @Success 200 {object} response.Envelope
// @Router /events [get]
func (h *EventHandler) List(c *gin.Context) {
	filter := models.EventFilter{Source: c.Query("source")}
	if v := c.Query("status"); v != "" {
		status := models.EventStatus(v)
		filter.Status = &status
	}
	if v := c.Query("type"); v != "" {
		eventType := models.EventType(v)
		filter.Type = &eventType
	}
	filter.Page, filter.PageSize = pageParams(c)

	events, pagination, err := h.dispatch.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}

// Get godoc
// @Summary Get one queued event
// @Tags Events
// @Produce json
// @Param id path string true "Event id"
// @Success 200 {object} response.Envelope
// @Router /events/{id} [get]
func (h *EventHandler) Get(c *gin.Context) {
	event, err := h.dispatch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// Replay godoc
// @Summary Replay a failed event
// @Tags Events
// @Produce json
// @Param id path string true "Event id"
// @Success 200 {object} response.Envelope
// @Router /events/{id}/replay [post]
func (h *EventHandler) Replay(c *gin.Context) {
	result, err := h.dispatch.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
