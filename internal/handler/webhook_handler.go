package handler

import (
	"log"
	"net/http"
	"time"

	"chamalink/internal/domain"
	"chamalink/internal/repository"

	"github.com/gin-gonic/gin"
)

// SMSWebhookHandler receives delivery reports from the SMS provider
// and upgrades the matching record's sms sub-state to delivered.
type SMSWebhookHandler struct {
	repo *repository.NotificationRepository
}

func NewSMSWebhookHandler(repo *repository.NotificationRepository) *SMSWebhookHandler {
	return &SMSWebhookHandler{repo: repo}
}

type smsDeliveryReport struct {
	MessageID string `json:"message_id"`
	Number    string `json:"number"`
	Status    string `json:"status"` // Delivered | Failed | Expired
}

// DeliveryReport is called by the provider, not by members. Unknown
// message ids are acknowledged anyway: the provider retries reports it
// considers unconfirmed, and there is nothing to fix on our side.
func (h *SMSWebhookHandler) DeliveryReport(c *gin.Context) {
	var report smsDeliveryReport
	if err := c.ShouldBindJSON(&report); err != nil || report.MessageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report"})
		return
	}
	if report.Status != "Delivered" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	updated, err := h.repo.MarkDeliveredByMessageID(domain.ChannelSMS, report.MessageID, time.Now())
	if err != nil {
		log.Printf("[SMS] delivery report %s: %v", report.MessageID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if !updated {
		log.Printf("[SMS] delivery report for unknown message %s", report.MessageID)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
