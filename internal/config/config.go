package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the killboard services.
type Config struct {
	DBURL    string
	RedisURL string

	// Feed client (zKillboard RedisQ).
	QueueID          string
	RedisQURL        string
	TTW              int     // server-side long-poll wait in seconds
	MaxRPS           float64 // global request budget against RedisQ
	LockTimeout      time.Duration
	MaxWaitTolerance time.Duration // skip the poll instead of sleeping longer than this

	// External catalogs.
	ESIBaseURL string
	ZKBBaseURL string

	// Ingestion pipeline.
	TrackerQueue   string
	BackfillQueue  string
	MaxPerCycle    int
	CycleInterval  time.Duration
	TaskTimeout    time.Duration
	WorkerCount    int
	JobBufferSize  int
	StagingTTL     time.Duration
	ZKBCacheTTL    time.Duration
	RosterProvider string // "basic" or "memberaudit"

	// Query API.
	ListenAddr    string
	APICacheTTL   time.Duration
	FameThreshold int64
}

// Load builds a Config from environment variables. A .env file is honored
// when present so local runs do not need an exported environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBURL:            os.Getenv("DB_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		QueueID:          os.Getenv("KILLBOARD_QUEUE_ID"),
		RedisQURL:        envString("KILLBOARD_REDISQ_URL", "https://zkillboard.com/listen.php"),
		TTW:              envInt("KILLBOARD_REDISQ_TTW", 10),
		MaxRPS:           envFloat("KILLBOARD_MAX_RPS", 1.0),
		LockTimeout:      envDuration("KILLBOARD_LOCK_TIMEOUT", 5*time.Second),
		MaxWaitTolerance: envDuration("KILLBOARD_MAX_WAIT_TOLERANCE", 30*time.Second),
		ESIBaseURL:       envString("ESI_BASE_URL", "https://esi.evetech.net/latest"),
		ZKBBaseURL:       envString("ZKILLBOARD_API_URL", "https://zkillboard.com/api"),
		TrackerQueue:     envString("KILLBOARD_TRACKER_QUEUE", "killboard_tracker"),
		BackfillQueue:    envString("KILLBOARD_BACKFILL_QUEUE", "killboard_backfill"),
		MaxPerCycle:      envInt("KILLBOARD_MAX_KILLMAILS_PER_RUN", 400),
		CycleInterval:    envDuration("KILLBOARD_CYCLE_INTERVAL", time.Minute),
		TaskTimeout:      envDuration("KILLBOARD_TASK_TIMEOUT", 30*time.Minute),
		WorkerCount:      envInt("KILLBOARD_WORKER_COUNT", 4),
		JobBufferSize:    envInt("KILLBOARD_JOB_BUFFER", 64),
		StagingTTL:       envDuration("KILLBOARD_STAGING_TTL", 72*time.Hour),
		ZKBCacheTTL:      envDuration("KILLBOARD_ZKB_CACHE_TTL", 24*time.Hour),
		RosterProvider:   envString("KILLBOARD_ROSTER_PROVIDER", "basic"),
		ListenAddr:       envString("KILLBOARD_LISTEN_ADDR", ":8080"),
		APICacheTTL:      envDuration("KILLBOARD_API_CACHE_TTL", 10*time.Minute),
		FameThreshold:    int64(envInt("KILLBOARD_FAME_THRESHOLD", 1_000_000)),
	}

	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	if cfg.MaxRPS <= 0 {
		return nil, fmt.Errorf("KILLBOARD_MAX_RPS must be positive")
	}

	return cfg, nil
}

// MinInterval returns the minimum spacing between two feed requests.
func (c *Config) MinInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.MaxRPS)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
