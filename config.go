package main

import (
	"fmt"
	"os"
	"time"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.signKeyPEM=... -X main.sentryDSN=..."
var (
	signKeyPEM string // -X main.signKeyPEM=...
	sentryDSN  string // -X main.sentryDSN=...
	version    = "dev"
)

const (
	defaultPort      = "3000"
	defaultLang      = "in"
	defaultProxyFile = "proxies.txt"
	defaultCacheTTL  = 6 * time.Hour
)

// Config is the process configuration, read once at startup.
type Config struct {
	Port        string
	Lang        string
	Env         string
	LogLevel    string
	ProxyFile   string
	ProfileFile string
	RedisURL    string
	CacheTTL    time.Duration
	SentryDSN   string
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadConfig reads the environment. Call godotenv.Load first to pick up .env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", defaultPort),
		Lang:        getEnv("DRAMABOX_LANG", defaultLang),
		Env:         getEnv("DRAMABOX_ENV", "development"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		ProxyFile:   getEnv("PROXY_FILE", defaultProxyFile),
		ProfileFile: os.Getenv("DRAMABOX_PROFILE_FILE"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    defaultCacheTTL,
		SentryDSN:   GetSentryDSN(),
	}

	if raw := os.Getenv("CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CACHE_TTL %q: %w", raw, err)
		}
		cfg.CacheTTL = ttl
	}

	return cfg, nil
}

// GetSignKeyPEM returns the request signing key (build-time, env, or file fallback)
func GetSignKeyPEM() ([]byte, error) {
	if signKeyPEM != "" {
		return []byte(signKeyPEM), nil
	}
	if v := os.Getenv("DRAMABOX_SIGN_KEY"); v != "" {
		return []byte(v), nil
	}
	if path := os.Getenv("DRAMABOX_SIGN_KEY_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("no signing key configured: set DRAMABOX_SIGN_KEY or DRAMABOX_SIGN_KEY_FILE")
}

// GetSentryDSN returns the Sentry DSN (build-time or env fallback)
func GetSentryDSN() string {
	if sentryDSN != "" {
		return sentryDSN
	}
	return os.Getenv("SENTRY_DSN")
}
