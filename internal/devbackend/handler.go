package devbackend

import (
	"errors"
	"net/http"
	"time"

	v1 "tradegate/pkg/api/v1"
	"tradegate/pkg/constraints"
	"tradegate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	svc           *AuthService
	secureCookies bool
}

func NewHandler(svc *AuthService, secureCookies bool) *Handler {
	return &Handler{svc: svc, secureCookies: secureCookies}
}

// RegisterRoutes mounts the auth contract under /api with trailing-slash paths.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.POST("/login/", h.Login)
		api.POST("/register/", h.Register)
		api.POST("/token/refresh/", h.Refresh)
		api.POST("/logout/", h.Logout)
	}

	authed := api.Group("")
	authed.Use(h.RequireAccess())
	{
		authed.GET("/check-session/", h.CheckSession)
		authed.GET("/profile/", h.Profile)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var body v1.LoginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}

	tokens, err := h.svc.Login(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid email or password"})
			return
		}
		logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "login failed"})
		return
	}

	h.setSessionCookies(c, tokens)
	c.JSON(http.StatusOK, v1.MessageResponse{Message: "Login successful"})
}

func (h *Handler) Register(c *gin.Context) {
	var body v1.RegisterRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}

	if _, err := h.svc.Register(c.Request.Context(), body); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"email": []string{"Email already registered"}})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, v1.MessageResponse{Message: "Registration successful"})
}

func (h *Handler) Refresh(c *gin.Context) {
	raw, err := c.Cookie(constraints.RefreshTokenCookie)
	if err != nil || raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Refresh token missing"})
		return
	}

	tokens, err := h.svc.Refresh(c.Request.Context(), raw)
	if err != nil {
		if !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrSessionExpired) {
			logger.Error("refresh failed", zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid refresh token"})
		return
	}

	h.setSessionCookies(c, tokens)
	c.JSON(http.StatusOK, v1.MessageResponse{Message: "Token refreshed"})
}

func (h *Handler) Logout(c *gin.Context) {
	if raw, err := c.Cookie(constraints.RefreshTokenCookie); err == nil && raw != "" {
		if userID, err := h.svc.UserFromRefresh(raw); err == nil {
			if err := h.svc.Logout(c.Request.Context(), userID); err != nil {
				logger.Error("logout failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	h.clearSessionCookies(c)
	c.JSON(http.StatusOK, v1.MessageResponse{Message: "Logged out"})
}

func (h *Handler) CheckSession(c *gin.Context) {
	u := GetSessionUser(c.Request.Context())
	c.JSON(http.StatusOK, v1.SessionStatus{Authenticated: true, UserID: u.UserID})
}

func (h *Handler) Profile(c *gin.Context) {
	u := GetSessionUser(c.Request.Context())
	p, ok := h.svc.Profile(u.UserID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// RequireAccess authenticates the access_token cookie and stores the session
// user on the request context.
func (h *Handler) RequireAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := c.Cookie(constraints.AccessTokenCookie)
		if err != nil || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}

		claims, err := h.svc.Authenticate(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Given token not valid for any token type"})
			return
		}

		ctx := WithSessionUser(c.Request.Context(), &SessionUser{UserID: claims.UserID, Email: claims.Email})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (h *Handler) setSessionCookies(c *gin.Context, tokens *TokenPair) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(constraints.AccessTokenCookie, tokens.AccessToken, seconds(h.svc.AccessTokenTTL()), "/", "", h.secureCookies, true)
	c.SetCookie(constraints.RefreshTokenCookie, tokens.RefreshToken, seconds(h.svc.RefreshTokenTTL()), "/", "", h.secureCookies, true)
}

func (h *Handler) clearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(constraints.AccessTokenCookie, "", -1, "/", "", h.secureCookies, true)
	c.SetCookie(constraints.RefreshTokenCookie, "", -1, "/", "", h.secureCookies, true)
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
