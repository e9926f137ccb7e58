package middleware

import (
	"net/http"
	"strings"

	"tradegate/internal/metrics"
	"tradegate/pkg/constraints"
	"tradegate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Class is how the guard treats a path.
type Class int

const (
	ClassPublic Class = iota
	// ClassBypass covers assets and API routes; they never see the credential gate.
	ClassBypass
	ClassProtected
	ClassAuthOnly
)

type Decision int

const (
	Pass Decision = iota
	RedirectToLogin
	RedirectToHome
)

func (d Decision) String() string {
	switch d {
	case Pass:
		return "pass"
	case RedirectToLogin:
		return "redirect_login"
	case RedirectToHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

type Rule struct {
	Prefix string
	Class  Class
}

type GuardConfig struct {
	Bypass    []string
	Protected []string
	AuthOnly  []string
	LoginPath string
	HomePath  string
}

// Guard classifies navigations with an ordered, first-match-wins rule list.
type Guard struct {
	rules     []Rule
	loginPath string
	homePath  string
}

func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{
		loginPath: cfg.LoginPath,
		homePath:  cfg.HomePath,
	}
	if g.loginPath == "" {
		g.loginPath = "/login"
	}
	if g.homePath == "" {
		g.homePath = "/portfolio"
	}
	for _, p := range cfg.Bypass {
		g.rules = append(g.rules, Rule{Prefix: p, Class: ClassBypass})
	}
	for _, p := range cfg.Protected {
		g.rules = append(g.rules, Rule{Prefix: p, Class: ClassProtected})
	}
	for _, p := range cfg.AuthOnly {
		g.rules = append(g.rules, Rule{Prefix: p, Class: ClassAuthOnly})
	}
	return g
}

func (g *Guard) LoginPath() string { return g.loginPath }
func (g *Guard) HomePath() string  { return g.homePath }

// matchPrefix is case-sensitive: the path equals prefix or continues with a separator.
func matchPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

func (g *Guard) Classify(path string) Class {
	for _, r := range g.rules {
		if matchPrefix(path, r.Prefix) {
			return r.Class
		}
	}
	return ClassPublic
}

// Decide only looks at credential presence; whether the credential is still
// valid is settled later against the backend.
func (g *Guard) Decide(path string, hasCredential bool) Decision {
	switch g.Classify(path) {
	case ClassProtected:
		if !hasCredential {
			return RedirectToLogin
		}
	case ClassAuthOnly:
		if hasCredential {
			return RedirectToHome
		}
	}
	return Pass
}

func (g *Guard) IsProtected(path string) bool {
	return g.Classify(path) == ClassProtected
}

// HasCredential reports whether the access token cookie is present and non-empty.
func HasCredential(r *http.Request) bool {
	ck, err := r.Cookie(constraints.AccessTokenCookie)
	return err == nil && ck.Value != ""
}

func RouteGuard(g *Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		decision := g.Decide(path, HasCredential(c.Request))
		metrics.ObserveGuard(decision.String())

		switch decision {
		case RedirectToLogin:
			logger.Debug("guard redirect", zap.String("path", path), zap.String("to", g.loginPath))
			c.Redirect(http.StatusTemporaryRedirect, g.loginPath)
			c.Abort()
		case RedirectToHome:
			logger.Debug("guard redirect", zap.String("path", path), zap.String("to", g.homePath))
			c.Redirect(http.StatusTemporaryRedirect, g.homePath)
			c.Abort()
		default:
			c.Next()
		}
	}
}
