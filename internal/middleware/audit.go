package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/service"
)

// Audit captures each HTTP exchange as a security event: method, path,
// status, latency, and the redacted request body. Emission is asynchronous
// through the audit pipeline.
func Audit(audit *service.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := uuid.New().String()
		c.Header("X-Request-ID", reqID)

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(reqBody))
		}

		c.Next()

		identity := IdentityFrom(c)
		details := map[string]any{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if body := redactBody(reqBody); body != nil {
			details["request"] = body
		}

		severity := model.SeverityInfo
		if c.Writer.Status() == 401 || c.Writer.Status() == 403 || c.Writer.Status() == 429 {
			severity = model.SeverityWarning
		}

		audit.Log(&model.SecurityEvent{
			ID:        reqID,
			Actor:     identity.UserID,
			Name:      "http_request",
			Severity:  severity,
			IP:        c.ClientIP(),
			Details:   details,
			CreatedAt: start.UTC(),
		})
	}
}

func redactBody(body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	parsed := map[string]any{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return map[string]any{"raw": "[unparseable]"}
	}
	return service.RedactDetails(parsed)
}
