package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Session    SessionConfig    `mapstructure:"session"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	CORS       CORSConfig       `mapstructure:"cors"`
	DevBackend DevBackendConfig `mapstructure:"devbackend"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
	StaticDir   string `mapstructure:"static_dir"`
}

type BackendConfig struct {
	// APIURL overrides the environment-derived base URL used by the Go client.
	APIURL         string        `mapstructure:"api_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

type ProxyConfig struct {
	Upstream string        `mapstructure:"upstream"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type GuardConfig struct {
	Protected []string `mapstructure:"protected"`
	AuthOnly  []string `mapstructure:"auth_only"`
	Bypass    []string `mapstructure:"bypass"`
	LoginPath string   `mapstructure:"login_path"`
	HomePath  string   `mapstructure:"home_path"`
}

type SessionConfig struct {
	// Verify enables the server-side session check on protected pages.
	Verify  bool          `mapstructure:"verify"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	RedisTimeout      time.Duration `mapstructure:"redis_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DevBackendConfig struct {
	Port            string        `mapstructure:"port"`
	SigningKey      string        `mapstructure:"signing_key"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
}

const (
	localBackendURL = "http://127.0.0.1:8000/api"
	EnvProd         = "prod"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.static_dir", "")

	v.SetDefault("backend.api_url", "")
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("backend.refresh_timeout", 10*time.Second)

	v.SetDefault("proxy.upstream", localBackendURL)
	v.SetDefault("proxy.timeout", 30*time.Second)

	v.SetDefault("guard.protected", []string{"/portfolio", "/onboarding", "/kyc"})
	v.SetDefault("guard.auth_only", []string{"/login", "/register"})
	v.SetDefault("guard.bypass", []string{"/api", "/_next", "/static", "/assets", "/favicon.ico", "/robots.txt", "/health", "/metrics"})
	v.SetDefault("guard.login_path", "/login")
	v.SetDefault("guard.home_path", "/portfolio")

	v.SetDefault("session.verify", true)
	v.SetDefault("session.timeout", 5*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ratelimit.requests_per_second", 5)
	v.SetDefault("ratelimit.burst", 0) // 0 means one second's worth of requests
	v.SetDefault("ratelimit.key_prefix", "tradegate:ratelimit:")
	v.SetDefault("ratelimit.redis_timeout", 100*time.Millisecond)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("devbackend.port", ":8000")
	v.SetDefault("devbackend.signing_key", "tradegate-dev-signing-key")
	v.SetDefault("devbackend.access_token_ttl", 15*time.Minute)
	v.SetDefault("devbackend.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("devbackend.secure_cookies", false)
}

// Load reads config.yaml from . or ./config (or the file at path when set),
// then applies TRADEGATE_* environment overrides. A .env file is loaded into
// the process environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TRADEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// APIBaseURL picks the backend base URL for the Go client: an explicit
// override wins, production goes through this gateway's own proxy path and
// everything else talks to a local backend.
func (c *Config) APIBaseURL() string {
	if c.Backend.APIURL != "" {
		return strings.TrimRight(c.Backend.APIURL, "/")
	}
	if c.Server.Environment == EnvProd {
		port := c.Server.Port
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		return "http://127.0.0.1" + port + "/api/auth"
	}
	return localBackendURL
}

func (c *Config) IsProd() bool {
	return c.Server.Environment == EnvProd
}
