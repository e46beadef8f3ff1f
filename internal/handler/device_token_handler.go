package handler

import (
	"net/http"

	"chamalink/internal/middleware"
	"chamalink/internal/repository"

	"github.com/gin-gonic/gin"
)

type DeviceTokenHandler struct {
	tokens *repository.DeviceTokenRepository
}

func NewDeviceTokenHandler(tokens *repository.DeviceTokenRepository) *DeviceTokenHandler {
	return &DeviceTokenHandler{tokens: tokens}
}

type registerTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform"`
}

func (h *DeviceTokenHandler) Register(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	if err := h.tokens.Register(userID, req.Token, req.Platform); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type removeTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *DeviceTokenHandler) Remove(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req removeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	if err := h.tokens.RemoveForUser(userID, req.Token); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
