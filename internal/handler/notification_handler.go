package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/presencepro/platform/internal/models"
	"github.com/presencepro/platform/internal/service"
	appErrors "github.com/presencepro/platform/pkg/errors"
	"github.com/presencepro/platform/pkg/response"
)

// NotificationHandler exposes notification task and preference endpoints.
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler constructs handler.
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List godoc
// @Summary List notification tasks
// @Tags Notifications
// @Produce json
// @Param status query string false "Filter by status"
// @Param channel query string false "Filter by channel"
// @Param recipient query string false "Filter by recipient"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	filter := models.NotificationFilter{Recipient: c.Query("recipient")}
	if v := c.Query("status"); v != "" {
		status := models.NotificationStatus(v)
		filter.Status = &status
	}
	if v := c.Query("channel"); v != "" {
		channel := models.Channel(v)
		filter.Channel = &channel
	}
	filter.Page, filter.PageSize = pageParams(c)

	tasks, pagination, err := h.notifications.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tasks, pagination)
}

// Get godoc
// @Summary Get one notification task
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification id"
// @Success 200 {object} response.Envelope
// @Router /notifications/{id} [get]
func (h *NotificationHandler) Get(c *gin.Context) {
	task, err := h.notifications.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// Cancel godoc
// @Summary Cancel a pending notification
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification id"
// @Success 200 {object} response.Envelope
// @Router /notifications/{id}/cancel [post]
func (h *NotificationHandler) Cancel(c *gin.Context) {
	if err := h.notifications.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"cancelled": true}, nil)
}

// GetPreference godoc
// @Summary Get notification preferences for a recipient
// @Tags Preferences
// @Produce json
// @Param recipient path string true "Recipient address"
// @Success 200 {object} response.Envelope
// @Router /preferences/{recipient} [get]
func (h *NotificationHandler) GetPreference(c *gin.Context) {
	pref, err := h.notifications.GetPreference(c.Request.Context(), c.Param("recipient"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pref, nil)
}

// UpdatePreference godoc
// @Summary Update notification preferences for a recipient
// @Tags Preferences
// @Accept json
// @Produce json
// @Param recipient path string true "Recipient address"
// @Param payload body models.NotificationPreference true "Preference payload"
// @Success 200 {object} response.Envelope
// @Router /preferences/{recipient} [put]
func (h *NotificationHandler) UpdatePreference(c *gin.Context) {
	var pref models.NotificationPreference
	if err := c.ShouldBindJSON(&pref); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	pref.Recipient = c.Param("recipient")

	if err := h.notifications.UpdatePreference(c.Request.Context(), &pref); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pref, nil)
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}
