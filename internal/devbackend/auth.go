package devbackend

import (
	"context"
	"errors"
	"fmt"
	"time"

	v1 "tradegate/pkg/api/v1"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RedisKeyPrefix = "tradegate:dev:session:"
	Issuer         = "tradegate-devbackend"

	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrSessionExpired     = errors.New("session expired")
)

type AuthService struct {
	redis           *redis.Client
	users           *UserStore
	signingKey      []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

type UserClaims struct {
	UserID    string `json:"uid"`
	Email     string `json:"sub"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

func NewAuthService(rdb *redis.Client, users *UserStore, signingKey string, accessTokenTTL, refreshTokenTTL time.Duration) *AuthService {
	return &AuthService{
		redis:           rdb,
		users:           users,
		signingKey:      []byte(signingKey),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

func (s *AuthService) AccessTokenTTL() time.Duration  { return s.accessTokenTTL }
func (s *AuthService) RefreshTokenTTL() time.Duration { return s.refreshTokenTTL }

func (s *AuthService) Register(_ context.Context, req v1.RegisterRequest) (*v1.Profile, error) {
	return s.users.Create(req)
}

// Login checks credentials and opens a new session, replacing any previous one.
func (s *AuthService) Login(ctx context.Context, req v1.LoginRequest) (*TokenPair, error) {
	p, ok := s.users.Authenticate(req.Email, req.Password)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return s.generateTokens(ctx, p.ID, p.Email)
}

// Refresh rotates both tokens. The presented refresh token must be the one on
// the allow-list; a rotated-out token is rejected.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parse(refreshToken, tokenRefresh)
	if err != nil {
		return nil, err
	}

	stored, err := s.redis.Get(ctx, sessionKey(claims.UserID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if stored != refreshToken {
		return nil, ErrTokenInvalid
	}

	return s.generateTokens(ctx, claims.UserID, claims.Email)
}

// Authenticate validates an access token and returns its claims.
func (s *AuthService) Authenticate(accessToken string) (*UserClaims, error) {
	return s.parse(accessToken, tokenAccess)
}

func (s *AuthService) Profile(userID string) (*v1.Profile, bool) {
	return s.users.Get(userID)
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.redis.Del(ctx, sessionKey(userID)).Err()
}

// UserFromRefresh resolves the session owner from a refresh token without
// checking the allow-list, so logout works with a stale access token.
func (s *AuthService) UserFromRefresh(refreshToken string) (string, error) {
	claims, err := s.parse(refreshToken, tokenRefresh)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *AuthService) parse(raw, wantType string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &UserClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid || claims.TokenType != wantType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) sign(userID, email, typ string, ttl time.Duration, now time.Time) (string, error) {
	claims := UserClaims{
		UserID:    userID,
		Email:     email,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func (s *AuthService) generateTokens(ctx context.Context, userID, email string) (*TokenPair, error) {
	now := time.Now()
	access, err := s.sign(userID, email, tokenAccess, s.accessTokenTTL, now)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.sign(userID, email, tokenRefresh, s.refreshTokenTTL, now)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	// one live refresh token per user
	if err := s.redis.Set(ctx, sessionKey(userID), refresh, s.refreshTokenTTL).Err(); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func sessionKey(userID string) string {
	return RedisKeyPrefix + userID
}
