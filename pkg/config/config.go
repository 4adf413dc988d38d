// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Public base URL of this deployment (debug output, legal links)
	BasePublicURL string

	// Meta app registration
	MetaAppID       string
	MetaAppSecret   string
	MetaRedirectURI string // must byte-equal the value registered with Meta
	MetaAPIVersion  string // e.g. v19.0
	MetaVerifyToken string

	// AES-256 key for credential sealing, base64 (32 bytes decoded)
	EncryptionKey string

	// Outbound Graph API call budget
	MetaHTTPTimeout time.Duration

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:             env("CAPTIOCHAT_ENV", "dev"),
		HTTPAddr:        env("CAPTIOCHAT_HTTP_ADDR", ":8080"),
		BasePublicURL:   env("BASE_PUBLIC_URL", "http://localhost:8080"),
		MetaAppID:       env("META_APP_ID", ""),
		MetaAppSecret:   env("META_APP_SECRET", ""),
		MetaRedirectURI: env("META_REDIRECT_URI", ""),
		MetaAPIVersion:  env("META_API_VERSION", "v19.0"),
		MetaVerifyToken: env("META_VERIFY_TOKEN", ""),
		EncryptionKey:   env("ENCRYPTION_KEY", ""),
		MetaHTTPTimeout: envDur("META_HTTP_TIMEOUT_SEC", 15) * time.Second,
		RedisURL:        env("REDIS_URL", ""),
		DatabaseURL:     env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory stores for dev")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
