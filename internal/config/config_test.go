package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.Server.Environment)
	require.Equal(t, ":8080", cfg.Server.Port)
	require.Equal(t, []string{"/portfolio", "/onboarding", "/kyc"}, cfg.Guard.Protected)
	require.Equal(t, []string{"/login", "/register"}, cfg.Guard.AuthOnly)
	require.Equal(t, "/login", cfg.Guard.LoginPath)
	require.Equal(t, "/portfolio", cfg.Guard.HomePath)
	require.Equal(t, 10*time.Second, cfg.Backend.RefreshTimeout)
	require.Equal(t, "http://127.0.0.1:8000/api", cfg.APIBaseURL())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRADEGATE_SERVER_ENVIRONMENT", "prod")
	t.Setenv("TRADEGATE_SERVER_PORT", ":9090")
	t.Setenv("TRADEGATE_PROXY_UPSTREAM", "https://backend.example.com/api")
	t.Setenv("TRADEGATE_BACKEND_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)

	require.True(t, cfg.IsProd())
	require.Equal(t, "https://backend.example.com/api", cfg.Proxy.Upstream)
	require.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	require.Equal(t, "http://127.0.0.1:9090/api/auth", cfg.APIBaseURL())
}

func TestAPIBaseURL_ExplicitOverrideWins(t *testing.T) {
	t.Setenv("TRADEGATE_SERVER_ENVIRONMENT", "prod")
	t.Setenv("TRADEGATE_BACKEND_API_URL", "https://api.example.com/api/")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/api", cfg.APIBaseURL())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	err := os.WriteFile(path, []byte(`
guard:
  protected: ["/portfolio", "/wallet"]
  home_path: /portfolio/overview
ratelimit:
  requests_per_second: 20
  key_prefix: "gw-eu:rl:"
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"/portfolio", "/wallet"}, cfg.Guard.Protected)
	require.Equal(t, "/portfolio/overview", cfg.Guard.HomePath)
	require.Equal(t, 20, cfg.RateLimit.RequestsPerSecond)
	require.Equal(t, "gw-eu:rl:", cfg.RateLimit.KeyPrefix)
	// untouched sections keep defaults
	require.Equal(t, []string{"/login", "/register"}, cfg.Guard.AuthOnly)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
