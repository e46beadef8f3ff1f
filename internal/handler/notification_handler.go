package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"chamalink/internal/domain"
	"chamalink/internal/middleware"
	"chamalink/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type NotificationHandler struct {
	svc *service.NotificationService
}

func NewNotificationHandler(svc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// Create accepts a notification for asynchronous delivery. The caller
// always gets a queued response, never a delivery guarantee.
func (h *NotificationHandler) Create(c *gin.Context) {
	var in service.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sender := middleware.GetUserID(c)
	in.SenderID = &sender
	n, err := h.svc.Create(in)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": n.ID, "status": "queued"})
}

type bulkRequest struct {
	service.CreateInput
	Selector service.RecipientSelector `json:"selector"`
}

func (h *NotificationHandler) CreateBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sender := middleware.GetUserID(c)
	req.SenderID = &sender
	batchID, count, err := h.svc.CreateBulk(req.CreateInput, req.Selector)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoRecipients):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "selector resolved no recipients"})
		case errors.Is(err, service.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "bulk create failed"})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "count": count, "status": "queued"})
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	unreadOnly := c.Query("unread") == "true"
	list, err := h.svc.List(userID, unreadOnly, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// Get returns one record with its derived delivery status. The
// recipient and officers may look; other members may not.
func (h *NotificationHandler) Get(c *gin.Context) {
	id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	n, err := h.svc.Get(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	userID := middleware.GetUserID(c)
	role, _ := c.Get("role")
	if n.RecipientID != userID && !isOfficer(role) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notification":   n,
		"overall_status": n.OverallDeliveryStatus(),
		"retry_count":    n.TotalRetryCount(),
	})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID := middleware.GetUserID(c)
	count, err := h.svc.UnreadCount(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := middleware.GetUserID(c)
	id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	if err := h.svc.MarkRead(uint(id), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := middleware.GetUserID(c)
	count, err := h.svc.MarkAllRead(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "marked": count})
}

type rescheduleRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" binding:"required"`
}

func (h *NotificationHandler) Reschedule(c *gin.Context) {
	id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_for required"})
		return
	}
	n, err := h.svc.Reschedule(uint(id), req.ScheduledFor)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reschedule failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                n.ID,
		"scheduled_for":     n.ScheduledFor,
		"rescheduled_count": n.RescheduledCount,
	})
}

func (h *NotificationHandler) Archive(c *gin.Context) {
	id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	if err := h.svc.Archive(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func isOfficer(role interface{}) bool {
	r, ok := role.(string)
	if !ok {
		return false
	}
	for _, a := range domain.OfficerRoles {
		if r == a {
			return true
		}
	}
	return false
}
