package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
)

// IPRateLimit is the edge burst gate: a token bucket per client IP, in
// front of the security layer's fixed-window accounting. It sheds floods
// before they reach credential verification.
func IPRateLimit(qps float64, burst int) gin.HandlerFunc {
	if qps <= 0 {
		qps = 50
	}
	if burst <= 0 {
		burst = int(qps) * 2
	}

	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters[ip]; ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(qps), burst)
		limiters[ip] = l
		return l
	}

	return func(c *gin.Context) {
		if !limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": apperrors.New(apperrors.ErrRateLimited, "too many requests", nil),
			})
			return
		}
		c.Next()
	}
}
