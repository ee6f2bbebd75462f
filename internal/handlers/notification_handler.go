package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/middleware"
	"github.com/tourhub/booking-backend/internal/models"
)

// Inbox reads and acknowledges notifications
type Inbox interface {
	ListForRecipient(ctx context.Context, actor models.Actor) ([]models.Notification, error)
	ListBroadcast(ctx context.Context, actor models.Actor) ([]models.Notification, error)
	MarkRead(ctx context.Context, actor models.Actor, id int64) error
}

// NotificationHandler handles notification inbox requests
type NotificationHandler struct {
	inbox  Inbox
	logger *logrus.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(inbox Inbox, logger *logrus.Logger) *NotificationHandler {
	return &NotificationHandler{inbox: inbox, logger: logger}
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	notifications, err := h.inbox.ListForRecipient(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	unread := 0
	for _, n := range notifications {
		if !n.IsRead {
			unread++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"total":         len(notifications),
		"unread":        unread,
	})
}

// ListBroadcast handles GET /api/v1/admin/notifications
func (h *NotificationHandler) ListBroadcast(c *gin.Context) {
	notifications, err := h.inbox.ListBroadcast(c.Request.Context(), middleware.GetActor(c))
	if err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "total": len(notifications)})
}

// MarkRead handles POST /api/v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.inbox.MarkRead(c.Request.Context(), middleware.GetActor(c), id); err != nil {
		respondError(c, h.logger, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}
