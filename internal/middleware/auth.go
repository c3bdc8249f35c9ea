package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/service"
)

const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderAPISecret = "X-Api-Secret"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	ContextIdentityKey = "identity"
)

// Auth extracts the request's credential from headers, runs it through the
// security manager against the endpoint, and attaches the resulting
// identity. Denials abort with the denial's wire code and status.
func Auth(sec *service.SecurityManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := ExtractCredential(c)
		endpoint := EndpointName(c.Request.URL.Path)

		verdict := sec.AuthorizeRequest(c.Request.Context(), cred, c.ClientIP(), endpoint)
		if !verdict.Allowed {
			c.AbortWithStatusJSON(verdict.Denial.Status(), gin.H{"error": verdict.Denial})
			return
		}
		c.Set(ContextIdentityKey, verdict.Identity)
		c.Next()
	}
}

// ExtractCredential maps request headers onto one of the credential
// variants. An HMAC trio wins over a plain key/secret pair; a bearer token
// is only considered when no key is present; everything else is anonymous.
func ExtractCredential(c *gin.Context) service.Credential {
	key := c.GetHeader(HeaderAPIKey)
	if key != "" {
		if sig := c.GetHeader(HeaderSignature); sig != "" {
			return service.HMACCredential{
				Key:       key,
				Timestamp: c.GetHeader(HeaderTimestamp),
				Signature: sig,
				Payload:   peekJSONBody(c),
			}
		}
		return service.APIKeyCredential{Key: key, Secret: c.GetHeader(HeaderAPISecret)}
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return service.BearerCredential{Token: strings.TrimPrefix(auth, "Bearer ")}
	}
	return service.AnonymousCredential{}
}

// EndpointName normalizes a URL path to the endpoint key used by the rate
// table and the resource permission table.
func EndpointName(path string) string {
	path = strings.TrimPrefix(path, "/v1/")
	return strings.Trim(path, "/")
}

// peekJSONBody reads and restores the request body so signed-request
// verification sees the same payload the handler will bind.
func peekJSONBody(c *gin.Context) map[string]any {
	if c.Request.Body == nil {
		return map[string]any{}
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return map[string]any{}
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
	if len(raw) == 0 {
		return map[string]any{}
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

// IdentityFrom returns the authenticated identity set by Auth.
func IdentityFrom(c *gin.Context) model.Identity {
	if val, ok := c.Get(ContextIdentityKey); ok {
		if identity, ok := val.(model.Identity); ok {
			return identity
		}
	}
	return model.Identity{Method: model.MethodAnonymous}
}
