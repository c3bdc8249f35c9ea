package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
	"github.com/gotradegate/tradegate/internal/service"
)

type TokenHandler struct {
	auth *service.AuthManager
}

func NewTokenHandler(auth *service.AuthManager) *TokenHandler {
	return &TokenHandler{auth: auth}
}

type tokenIssueRequest struct {
	UserID string         `json:"user_id" binding:"required"`
	Claims map[string]any `json:"claims"`
}

func (h *TokenHandler) Issue(c *gin.Context) {
	var req tokenIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	token, err := h.auth.IssueToken(c.Request.Context(), req.UserID, req.Claims)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "user_id": req.UserID})
}

type tokenRevokeRequest struct {
	Token string `json:"token" binding:"required"`
}

// Revoke blacklists a token. Repeating the call for the same token
// succeeds; only a token too malformed to carry a jti is an error.
func (h *TokenHandler) Revoke(c *gin.Context) {
	var req tokenRevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if err := h.auth.RevokeToken(c.Request.Context(), req.Token); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
