package handler

import (
	"net/http"

	"chamalink/config"
	"chamalink/internal/auth"
	"chamalink/internal/repository"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler issues access tokens. Member registration itself lives
// in the account subsystem; this service only authenticates.
type AuthHandler struct {
	cfg   *config.Config
	users *repository.UserRepository
}

func NewAuthHandler(cfg *config.Config, users *repository.UserRepository) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users}
}

type loginRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone and password required"})
		return
	}
	u, err := h.users.GetByPhone(req.Phone)
	if err != nil || !u.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := auth.GenerateAccessToken(&h.cfg.JWT, u.ID, u.Phone, u.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"user": gin.H{
			"id":        u.ID,
			"full_name": u.FullName,
			"role":      u.Role,
		},
	})
}
