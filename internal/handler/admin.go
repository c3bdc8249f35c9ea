package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gotradegate/tradegate/internal/middleware"
	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
	"github.com/gotradegate/tradegate/internal/pkg/logger"
)

// AdminHandler exposes operational toggles.
type AdminHandler struct {
	lockdown *middleware.LockdownSwitch
}

func NewAdminHandler(lockdown *middleware.LockdownSwitch) *AdminHandler {
	return &AdminHandler{lockdown: lockdown}
}

type lockdownRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *AdminHandler) SetLockdown(c *gin.Context) {
	var req lockdownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	h.lockdown.Set(*req.Enabled)
	logger.Warn("Lockdown toggled", "enabled", *req.Enabled, "client_ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"lockdown": h.lockdown.Engaged()})
}

func (h *AdminHandler) GetLockdown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lockdown": h.lockdown.Engaged()})
}
