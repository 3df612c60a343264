package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"thread-sync/internal/auth"
)

// AuthHandler mints access tokens. In deployments fronted by an identity
// service this route stays disabled and tokens arrive pre-signed.
type AuthHandler struct{}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Token issues a signed token for the given user id.
func (h *AuthHandler) Token(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := auth.GenerateToken(req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
