package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers. The file driver is the on-device default; postgres backs
// the hosted sync gateway.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL is required only when
// STORE_DRIVER=postgres.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Durable store
	StoreDriver string
	StorePath   string // file driver
	DatabaseURL string // postgres driver
	DBMaxConns  int32
	DBMinConns  int32

	// Remote sync backend
	BackendBaseURL string
	BackendTimeout time.Duration

	// Sync domains an executor is registered for at startup
	Domains []string

	// Drain tuning
	BatchSize int

	// Retry policy
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	AttemptLimit int

	// Rate limiting: maximum dispatches per second per domain
	RateLimit int

	// Initial connectivity assumption before the first network signal
	StartOnline bool
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		StoreDriver: getEnv("STORE_DRIVER", DriverFile),
		StorePath:   getEnv("STORE_PATH", "outbox.json"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		BackendBaseURL: getEnv("BACKEND_BASE_URL", "http://localhost:9090"),
		BackendTimeout: getDuration("BACKEND_TIMEOUT", 10*time.Second),

		Domains: getList("SYNC_DOMAINS", []string{"diary", "gratitude", "session", "dream"}),

		BatchSize: getInt("DRAIN_BATCH_SIZE", 10),

		BackoffBase:  getDuration("BACKOFF_BASE", time.Second),
		BackoffMax:   getDuration("BACKOFF_MAX", 30*time.Second),
		AttemptLimit: getInt("ATTEMPT_LIMIT", 5),

		RateLimit: getInt("RATE_LIMIT_PER_DOMAIN", 25),

		StartOnline: getBool("START_ONLINE", true),
	}

	switch cfg.StoreDriver {
	case DriverFile:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q: must be %s or %s", cfg.StoreDriver, DriverFile, DriverPostgres)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
