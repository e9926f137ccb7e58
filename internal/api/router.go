package api

import (
	"strings"

	"tradegate/internal/metrics"
	"tradegate/internal/middleware"
	"tradegate/internal/proxy"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// rateLimitedAuthPaths are the proxied sub-paths worth throttling per client.
var rateLimitedAuthPaths = []string{"/login", "/register", "/password-reset"}

type Deps struct {
	Proxy     *proxy.Handler
	Guard     *middleware.Guard
	Verifier  middleware.SessionVerifier // nil disables the server-side session check
	Redis     *redis.Client              // nil runs the rate limiter locally
	RateLimit middleware.RateLimitOptions
	Origins   []string
	// StaticDir holds the built pages; empty answers pages with JSON 404.
	StaticDir string
}

func RegisterRoutes(d Deps) *gin.Engine {
	r := gin.New()

	if len(d.Origins) > 0 {
		r.Use(middleware.CorsMiddleware(d.Origins))
	}
	r.Use(
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
		middleware.RouteGuard(d.Guard),
	)
	r.SetTrustedProxies(nil)

	health := NewHealthHandler(d.Redis)
	r.GET("/health", health.Check)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authLimiter := middleware.NewRateLimiter(d.Redis, d.RateLimit)
	r.Any("/api/auth/*path", limitAuthPaths(authLimiter.Handler()), d.Proxy.Forward)

	pages := NewPageHandler(d.StaticDir)
	r.NoRoute(protectPages(d.Guard, d.Verifier), pages.Serve)

	return r
}

func limitAuthPaths(limiter gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := c.Param("path")
		for _, p := range rateLimitedAuthPaths {
			if strings.HasPrefix(sub, p) {
				limiter(c)
				return
			}
		}
		c.Next()
	}
}

// protectPages runs the backend session check for protected pages only.
func protectPages(g *middleware.Guard, v middleware.SessionVerifier) gin.HandlerFunc {
	if v == nil {
		return func(c *gin.Context) { c.Next() }
	}
	check := middleware.SessionCheck(v, g.LoginPath())
	return func(c *gin.Context) {
		if !g.IsProtected(c.Request.URL.Path) {
			c.Next()
			return
		}
		check(c)
	}
}
