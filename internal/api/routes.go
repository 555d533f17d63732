package api

import (
	"github.com/gin-gonic/gin"
	"github.com/openclub/kudos/internal/middleware"
	"github.com/openclub/kudos/internal/ratelimit"
)

// RegisterRoutes wires the HTTP surface onto a gin engine. Kept out of
// main so handler tests can build the exact production routing against
// in-memory dependencies.
func RegisterRoutes(
	r *gin.Engine,
	authHandler *AuthHandler,
	xpHandler *XPHandler,
	limiter *ratelimit.Limiter,
	jwtSecret string,
) {
	// Health is public — load balancers can't carry a JWT.
	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.POST("/v1/auth/signup", authHandler.Signup)
	r.POST("/v1/auth/login",
		middleware.RateLimitByIP(limiter, ratelimit.LoginAttempt),
		authHandler.Login,
	)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtSecret))

	v1.GET("/xp/me", xpHandler.Me)
	v1.GET("/xp/me/transactions", xpHandler.Transactions)
	v1.POST("/xp/award", xpHandler.Award)
	v1.POST("/xp/redeem",
		middleware.RateLimit(limiter, ratelimit.Redemption),
		xpHandler.Redeem,
	)
}
