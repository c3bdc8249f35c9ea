package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
	"github.com/gotradegate/tradegate/internal/service"
)

type KeyHandler struct {
	users *service.UserService
}

func NewKeyHandler(users *service.UserService) *KeyHandler {
	return &KeyHandler{users: users}
}

type keyCreateRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	Permissions []string `json:"permissions"`
}

// Create issues a key pair. The plaintext secret appears in this response
// and nowhere else; every other surface serves the masked view.
func (h *KeyHandler) Create(c *gin.Context) {
	var req keyCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	key, err := h.users.CreateKey(c.Request.Context(), req.UserID, req.Permissions)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"api_key":     key.Key,
		"secret":      key.Secret,
		"owner_id":    key.OwnerID,
		"permissions": key.Permissions,
		"created_at":  key.CreatedAt,
	})
}

func (h *KeyHandler) List(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		c.Error(apperrors.NewInvalidRequest("user query parameter required"))
		return
	}
	keys := h.users.Keys(c.Request.Context(), userID)
	out := make([]*model.APIKeyPublic, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Public())
	}
	c.JSON(http.StatusOK, out)
}

func (h *KeyHandler) Delete(c *gin.Context) {
	if err := h.users.DeleteKey(c.Request.Context(), c.Param("key")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
