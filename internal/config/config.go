package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	GRPCAddr             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	JWTSecret            string
	JWTIssuer            string
	ServiceAuthToken     string
	RendererURL          string
	RendererTimeout      time.Duration
	OperationTimeout     time.Duration
	ReminderTimezone     string
	ContactsCacheTTL     time.Duration
	ReconcileJobEnabled  bool
	ReconcileJobInterval time.Duration
	ReconcileJobTimeout  time.Duration
	RateLimitRPS         float64
	RateLimitBurst       int
	EchoPolicy           string
	LogLevel             string
	LogFormat            string
}

// LoadDotenv reads an optional .env file into the process environment.
// Variables that are already set win over the file.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load() Config {
	return Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8085"),
		GRPCAddr:             getenv("GRPC_ADDR", ":9095"),
		DatabaseURL:          getenv("DATABASE_URL", ""),
		RedisAddr:            getenv("REDIS_ADDR", ""),
		RedisPassword:        getenv("REDIS_PASSWORD", ""),
		JWTSecret:            getenv("JWT_SECRET", "dev-secret"),
		JWTIssuer:            getenv("JWT_ISSUER", "tutorme-identity"),
		ServiceAuthToken:     getenv("SERVICE_AUTH_TOKEN", ""),
		RendererURL:          strings.TrimRight(getenv("RENDERER_URL", "http://127.0.0.1:8090"), "/"),
		RendererTimeout:      getenvDuration("RENDERER_TIMEOUT", 20*time.Second),
		OperationTimeout:     getenvDuration("OPERATION_TIMEOUT", 15*time.Second),
		ReminderTimezone:     getenv("REMINDER_TIMEZONE", "UTC"),
		ContactsCacheTTL:     getenvDuration("CONTACTS_CACHE_TTL", 30*time.Second),
		ReconcileJobEnabled:  getenvBool("RECONCILE_JOB_ENABLED", true),
		ReconcileJobInterval: getenvDuration("RECONCILE_JOB_INTERVAL", 10*time.Minute),
		ReconcileJobTimeout:  getenvDuration("RECONCILE_JOB_TIMEOUT", 30*time.Second),
		RateLimitRPS:         getenvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:       getenvInt("RATE_LIMIT_BURST", 20),
		EchoPolicy:           getenv("ECHO_POLICY", "keep"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		LogFormat:            getenv("LOG_FORMAT", "console"),
	}
}

// Location resolves ReminderTimezone, falling back to UTC for unknown zones.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
