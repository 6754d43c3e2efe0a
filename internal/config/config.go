package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"auction-core/utils"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Notification backends
const (
	BackendLog   = "log"
	BackendRedis = "redis"
	BackendNATS  = "nats"
	BackendWS    = "ws"
)

// Config is the service configuration, read from the environment
type Config struct {
	Port     string
	LogLevel string

	Store       string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	NotifyBackends     []string
	NotifyWorkers      int
	NotifyQueueSize    int
	NotifyMaxRetries   int
	NotifyRetryBackoff time.Duration

	SweepInterval time.Duration
	BidTimeout    time.Duration

	AdminToken string
	SeedDemo   bool
}

// Load reads the configuration with defaults for unset variables
func Load() (Config, error) {
	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Store:         strings.ToLower(getEnv("STORE", StoreMemory)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.NotifyWorkers, err = getInt("NOTIFY_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}
	if cfg.NotifyMaxRetries, err = getInt("NOTIFY_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.NotifyRetryBackoff, err = getDuration("NOTIFY_RETRY_BACKOFF", 200*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BidTimeout, err = getDuration("BID_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SeedDemo, err = getBool("SEED_DEMO", false); err != nil {
		return Config{}, err
	}

	cfg.NotifyBackends = splitList(getEnv("NOTIFY_BACKENDS", BackendLog+","+BackendWS))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	for _, v := range cfg.unsetVars() {
		utils.Warn("Environment variable not set, using default", map[string]any{
			"variable": v.Key,
			"using":    v.Using,
		})
	}
	return cfg, nil
}

type unsetVar struct {
	Key   string
	Using string
}

// unsetVars lists the operationally relevant variables left to their defaults
func (c Config) unsetVars() []unsetVar {
	var out []unsetVar
	if c.Store == StoreMemory && os.Getenv("DATABASE_URL") == "" {
		out = append(out, unsetVar{Key: "DATABASE_URL", Using: "in-memory store, state is lost on restart"})
	}
	if c.HasBackend(BackendRedis) && os.Getenv("REDIS_ADDR") == "" {
		out = append(out, unsetVar{Key: "REDIS_ADDR", Using: c.RedisAddr})
	}
	if c.HasBackend(BackendNATS) && os.Getenv("NATS_URL") == "" {
		out = append(out, unsetVar{Key: "NATS_URL", Using: c.NATSURL})
	}
	if c.AdminToken == "" {
		out = append(out, unsetVar{Key: "ADMIN_TOKEN", Using: "admin routes are unauthenticated"})
	}
	return out
}

// Addr is the listen address for the HTTP server
func (c Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

// HasBackend reports whether name is among the configured notification backends
func (c Config) HasBackend(name string) bool {
	for _, b := range c.NotifyBackends {
		if b == name {
			return true
		}
	}
	return false
}

func (c Config) validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("config: unknown STORE %q", c.Store)
	}

	for _, b := range c.NotifyBackends {
		switch b {
		case BackendLog, BackendRedis, BackendNATS, BackendWS:
		default:
			return fmt.Errorf("config: unknown notification backend %q", b)
		}
	}

	if c.NotifyWorkers <= 0 || c.NotifyQueueSize <= 0 {
		return fmt.Errorf("config: NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}
	if c.NotifyMaxRetries < 0 {
		return fmt.Errorf("config: NOTIFY_MAX_RETRIES must not be negative")
	}
	if c.SweepInterval <= 0 || c.BidTimeout <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL and BID_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		utils.Warn("NOTIFY_BACKENDS is empty, notifications will only be logged", nil)
		out = append(out, BackendLog)
	}
	return out
}
