package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config keeps the runtime settings for the server.
type Config struct {
	ServerPort    string
	MongoURI      string
	MongoDBName   string
	JWTSecret     string
	BillingAPIURL string

	// Rate limiting. RateLimitRPS/Burst apply per identity on the API
	// surface; the auth limiter is tighter to slow credential stuffing.
	RateLimitRPS       float64
	RateLimitBurst     int
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int
	RateLimitMaxKeys   int
	RateLimitTTL       time.Duration
}

// Load reads configuration from environment variables with sane defaults.
// godotenv.Load is the caller's job; this only sees the environment.
func Load() (Config, error) {
	cfg := Config{
		ServerPort:         strings.TrimSpace(os.Getenv("SERVER_PORT")),
		MongoURI:           strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDBName:        strings.TrimSpace(os.Getenv("MONGO_DB_NAME")),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		BillingAPIURL:      strings.TrimSpace(os.Getenv("BILLING_API_URL")),
		RateLimitRPS:       parseFloat(os.Getenv("RATE_LIMIT_RPS"), 10),
		RateLimitBurst:     parseInt(os.Getenv("RATE_LIMIT_BURST"), 30),
		AuthRateLimitRPS:   parseFloat(os.Getenv("AUTH_RATE_LIMIT_RPS"), 0.2),
		AuthRateLimitBurst: parseInt(os.Getenv("AUTH_RATE_LIMIT_BURST"), 5),
		RateLimitMaxKeys:   parseInt(os.Getenv("RATE_LIMIT_MAX_KEYS"), 10000),
		RateLimitTTL:       parseDuration(os.Getenv("RATE_LIMIT_TTL"), 10*time.Minute),
	}

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8000"
	}
	if cfg.MongoURI == "" {
		cfg.MongoURI = "mongodb://localhost:27017"
	}
	if cfg.MongoDBName == "" {
		cfg.MongoDBName = "todo_db"
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseFloat(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
