package handler

import (
	"net/http"
	"time"

	"chamalink/internal/dispatcher"
	"chamalink/internal/middleware"
	"chamalink/internal/repository"
	"chamalink/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes operator entry points: manual dispatch/sweep
// triggers and topic broadcast management.
type AdminHandler struct {
	disp    *dispatcher.Dispatcher
	sweeper *dispatcher.Sweeper
	fcm     *service.FCMService
	tokens  *repository.DeviceTokenRepository
}

func NewAdminHandler(disp *dispatcher.Dispatcher, sweeper *dispatcher.Sweeper, fcm *service.FCMService, tokens *repository.DeviceTokenRepository) *AdminHandler {
	return &AdminHandler{disp: disp, sweeper: sweeper, fcm: fcm, tokens: tokens}
}

// RunDispatch triggers one poll cycle. Idempotent; safe to call while
// the background loop runs, the claim step prevents double sends.
func (h *AdminHandler) RunDispatch(c *gin.Context) {
	n, err := h.disp.RunDueDispatch(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatched": n})
}

func (h *AdminHandler) RunSweep(c *gin.Context) {
	n, err := h.sweeper.RunOnce(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": n})
}

// SubscribeTopic subscribes the caller's registered devices to a
// broadcast topic. Topic sends are fire-and-forget and outside
// per-record delivery tracking.
func (h *AdminHandler) SubscribeTopic(c *gin.Context) {
	h.topicOp(c, true)
}

func (h *AdminHandler) UnsubscribeTopic(c *gin.Context) {
	h.topicOp(c, false)
}

func (h *AdminHandler) topicOp(c *gin.Context, subscribe bool) {
	if !h.fcm.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push gateway unavailable"})
		return
	}
	topic := c.Param("topic")
	userID := middleware.GetUserID(c)
	tokens, err := h.tokens.ListTokens(userID)
	if err != nil || len(tokens) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no registered devices"})
		return
	}
	if subscribe {
		err = h.fcm.SubscribeToTopic(c.Request.Context(), tokens, topic)
	} else {
		err = h.fcm.UnsubscribeFromTopic(c.Request.Context(), tokens, topic)
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "topic operation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
