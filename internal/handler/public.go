package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// PublicHandler serves the endpoints the public namespace allows without
// credentials.
type PublicHandler struct{}

func NewPublicHandler() *PublicHandler {
	return &PublicHandler{}
}

func (h *PublicHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "tradegate"})
}

// Time lets HMAC clients synchronize before signing.
func (h *PublicHandler) Time(c *gin.Context) {
	now := time.Now().UTC()
	c.JSON(http.StatusOK, gin.H{
		"unix": now.Unix(),
		"iso":  now.Format(time.RFC3339),
	})
}
