package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	// Orchestrator gateway
	GatewayURL          string
	GatewayAPIKey       string
	GatewayClientID     string
	GatewayClientSecret string
	GatewayTokenURL     string
	// GatewayTimeout bounds the wait for upstream response headers.
	GatewayTimeout time.Duration
	// StreamTimeout bounds a whole chat turn, stream included.
	StreamTimeout time.Duration
	HistoryLimit  int
	// Persistence
	PersistenceEnabled bool
	PersistTimeout     time.Duration
	DatabaseURL        string
	MaxThreadMessages  int
	// Redis-backed seen set; in-memory when empty
	RedisURL     string
	SeenTTL      time.Duration
	SeenCapacity int
	// Per-identity rate limit on the chat endpoint
	RateLimitRPS   float64
	RateLimitBurst int
	// Logging
	LogLevel  string
	LogFormat string
	// Dev gateway
	OpenAIAPIKey      string
	OpenAIModel       string
	DevGatewayPort    string
	DevGatewayPrompt  string
	DevGatewayCatalog string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:                getEnvDefault("PORT", "8080"),
		Environment:         getEnvDefault("ENVIRONMENT", "development"),
		AllowedOrigins:      getEnvListDefault("ALLOWED_ORIGINS", []string{"*"}),
		GatewayURL:          getEnvDefault("GATEWAY_URL", "http://localhost:8090"),
		GatewayAPIKey:       os.Getenv("GATEWAY_API_KEY"),
		GatewayClientID:     os.Getenv("GATEWAY_CLIENT_ID"),
		GatewayClientSecret: os.Getenv("GATEWAY_CLIENT_SECRET"),
		GatewayTokenURL:     os.Getenv("GATEWAY_TOKEN_URL"),
		GatewayTimeout:      getEnvDurationDefault("GATEWAY_TIMEOUT", 30*time.Second),
		StreamTimeout:       getEnvDurationDefault("STREAM_TIMEOUT", 5*time.Minute),
		HistoryLimit:        getEnvIntDefault("HISTORY_LIMIT", 20),
		PersistenceEnabled:  getEnvBoolDefault("PERSISTENCE", true),
		PersistTimeout:      getEnvDurationDefault("PERSIST_TIMEOUT", 3*time.Second),
		DatabaseURL:         os.Getenv("DB_URL"),
		MaxThreadMessages:   getEnvIntDefault("MAX_THREAD_MESSAGES", 200),
		RedisURL:            os.Getenv("REDIS_URL"),
		SeenTTL:             getEnvDurationDefault("SEEN_TTL", 10*time.Minute),
		SeenCapacity:        getEnvIntDefault("SEEN_CAPACITY", 10000),
		RateLimitRPS:        getEnvFloatDefault("RATE_LIMIT_RPS", 1),
		RateLimitBurst:      getEnvIntDefault("RATE_LIMIT_BURST", 5),
		LogLevel:            getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvDefault("LOG_FORMAT", "json"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		DevGatewayPort:      getEnvDefault("DEV_GATEWAY_PORT", "8090"),
		DevGatewayPrompt:    getEnvDefault("DEV_GATEWAY_PROMPT", "prompts/gateway.yaml"),
		DevGatewayCatalog:   getEnvDefault("DEV_GATEWAY_CATALOG", "prompts/catalog.yaml"),
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" && cfg.PersistenceEnabled {
		log.Println("warning: DB_URL is not set; chat threads are kept in memory only")
	}
	return cfg
}

// IsProduction reports whether ENVIRONMENT names a production deployment.
func (c Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "production", "prod":
		return true
	}
	return false
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("warning: %s=%q is not an integer; using %d", key, v, def)
	}
	return def
}

func getEnvFloatDefault(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("warning: %s=%q is not a number; using %v", key, v, def)
	}
	return def
}

// getEnvDurationDefault accepts Go durations ("45s") or bare seconds ("45").
func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("warning: %s=%q is not a duration; using %s", key, v, def)
	return def
}
