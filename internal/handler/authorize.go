package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gotradegate/tradegate/internal/middleware"
	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/service"
)

// AuthorizeHandler is the pre-trade gate: the platform's execution layer
// asks it whether an operation may proceed before doing anything
// irreversible.
type AuthorizeHandler struct {
	sec *service.SecurityManager
}

func NewAuthorizeHandler(sec *service.SecurityManager) *AuthorizeHandler {
	return &AuthorizeHandler{sec: sec}
}

type authorizeRequest struct {
	Operation string                `json:"operation" binding:"required"`
	Params    map[string]any        `json:"params"`
	Session   model.SecurityContext `json:"session"`
}

// Authorize gates one trading operation for the authenticated caller.
func (h *AuthorizeHandler) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_request", "reason": err.Error()}})
		return
	}

	identity := middleware.IdentityFrom(c)
	verdict := h.sec.AuthorizeTrading(c.Request.Context(), identity, c.ClientIP(), req.Operation, req.Params, req.Session)
	if !verdict.Allowed {
		c.JSON(verdict.Denial.Status(), gin.H{
			"allowed": false,
			"error":   verdict.Denial,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed":   true,
		"operation": req.Operation,
		"tier":      h.sec.Guard().TierOf(req.Operation).String(),
	})
}

// Resources is capability discovery: everything the caller may touch.
func (h *AuthorizeHandler) Resources(c *gin.Context) {
	identity := middleware.IdentityFrom(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id":   identity.UserID,
		"resources": h.sec.Access().AccessibleResources(identity.UserID),
	})
}
