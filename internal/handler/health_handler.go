package handler

import (
	"net/http"

	"chamalink/internal/service"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports gateway availability. An unconfigured gateway
// is an operator problem surfaced here, never an end-user error.
type HealthHandler struct {
	fcm   *service.FCMService
	sms   *service.SMSGateway
	email *service.EmailGateway
}

func NewHealthHandler(fcm *service.FCMService, sms *service.SMSGateway, email *service.EmailGateway) *HealthHandler {
	return &HealthHandler{fcm: fcm, sms: sms, email: email}
}

func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"gateways": gin.H{
			"push":  h.fcm.Available(),
			"sms":   h.sms.Available(),
			"email": h.email.Available(),
		},
	})
}
