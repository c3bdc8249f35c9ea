package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
	"github.com/gotradegate/tradegate/internal/service"
)

type EventHandler struct {
	audit *service.AuditService
}

func NewEventHandler(audit *service.AuditService) *EventHandler {
	return &EventHandler{audit: audit}
}

// List queries the security-event trail:
// GET /v1/admin/events?user=&from=&to=&limit=
func (h *EventHandler) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	from, err := parseTimeParam(c.Query("from"))
	if err != nil {
		c.Error(apperrors.NewInvalidRequest("invalid from timestamp"))
		return
	}
	to, err := parseTimeParam(c.Query("to"))
	if err != nil {
		c.Error(apperrors.NewInvalidRequest("invalid to timestamp"))
		return
	}

	events, listErr := h.audit.List(c.Request.Context(), c.Query("user"), limit, from, to)
	if listErr != nil {
		c.Error(apperrors.Wrap(listErr))
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// parseTimeParam accepts RFC3339 or unix seconds; empty means unset.
func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.Unix(secs, 0).UTC()
	return &t, nil
}
