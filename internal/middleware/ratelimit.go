package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openclub/kudos/internal/ratelimit"
)

// RateLimit guards a route with a named policy, keyed by the authenticated
// user. Must run after AuthMiddleware.
//
// A breach is a soft rejection: 429 with a "slow down" message, never a
// system error. Remaining/reset ride along as the conventional headers so
// well-behaved clients can back off before hitting the limit.
func RateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := GetUserID(c)
		if subject == uuid.Nil {
			// No identity to key on; the auth layer already rejected or
			// will reject this request.
			c.Next()
			return
		}

		res := limiter.CheckPolicy(c.Request.Context(), policy, subject.String())
		setRateLimitHeaders(c, res)
		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "slow down",
			})
			return
		}
		c.Next()
	}
}

// RateLimitByIP guards unauthenticated routes (login) keyed by client IP.
func RateLimitByIP(limiter *ratelimit.Limiter, policy ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := limiter.CheckPolicy(c.Request.Context(), policy, c.ClientIP())
		setRateLimitHeaders(c, res)
		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "slow down",
			})
			return
		}
		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, res ratelimit.Result) {
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.UnixMilli(), 10))
}
