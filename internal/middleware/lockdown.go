package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
)

// LockdownSwitch is the incident-response kill switch: while engaged, every
// mutating endpoint is refused. Reads stay up so operators can observe.
type LockdownSwitch struct {
	engaged atomic.Bool
}

func NewLockdownSwitch(engaged bool) *LockdownSwitch {
	s := &LockdownSwitch{}
	s.engaged.Store(engaged)
	return s
}

func (s *LockdownSwitch) Set(engaged bool) { s.engaged.Store(engaged) }
func (s *LockdownSwitch) Engaged() bool    { return s.engaged.Load() }

func Lockdown(sw *LockdownSwitch) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sw.Engaged() {
			c.Next()
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			// The lockdown toggle itself stays reachable.
			if c.FullPath() == "/v1/admin/lockdown" {
				c.Next()
				return
			}
			c.Error(apperrors.New(apperrors.ErrLockdown, "service is in lockdown", nil))
			c.Abort()
		}
	}
}
