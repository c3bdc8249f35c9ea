package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/service"
)

// HeaderAdminKey is the break-glass header for provisioning before any
// admin user exists. It bypasses credential verification only when the key
// is configured and matches exactly.
const HeaderAdminKey = "X-Admin-Key"

// AdminAuth gates the admin surface. The break-glass key short-circuits;
// otherwise the request authenticates like any other, and the endpoint's
// admin resource requirement does the gating.
func AdminAuth(adminKey string, sec *service.SecurityManager) gin.HandlerFunc {
	authenticate := Auth(sec)
	return func(c *gin.Context) {
		if adminKey != "" && breakGlassMatch(c.GetHeader(HeaderAdminKey), adminKey) {
			c.Set(ContextIdentityKey, model.Identity{UserID: "break-glass", Method: "admin_key"})
			c.Next()
			return
		}
		authenticate(c)
	}
}

func breakGlassMatch(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
