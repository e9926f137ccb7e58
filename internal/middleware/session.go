package middleware

import (
	"context"
	"net/http"

	"tradegate/client"
	"tradegate/internal/metrics"
	"tradegate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionVerifier interface {
	Verify(ctx context.Context, cookies []*http.Cookie) (client.ProbeResult, error)
}

// SessionCheck is the second layer behind RouteGuard: it asks the backend
// whether the presented cookies still make a session and otherwise sends the
// browser to the login page. Cookies a refresh issued are relayed either way.
func SessionCheck(v SessionVerifier, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := v.Verify(c.Request.Context(), c.Request.Cookies())
		if err != nil {
			logger.Warn("session check failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		metrics.ObserveSessionCheck(err == nil && res.OK)

		for _, ck := range res.SetCookies {
			http.SetCookie(c.Writer, ck)
		}
		if err != nil || !res.OK {
			c.Redirect(http.StatusTemporaryRedirect, loginPath)
			c.Abort()
			return
		}
		c.Next()
	}
}
