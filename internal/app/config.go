package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"feedstream/internal/services/feed"
	"feedstream/internal/services/prefetch"
)

type Config struct {
	HTTPAddr             string
	MongoURI             string
	MongoDatabase        string
	MongoPostsCollection string
	RedisURL             string
	PositionStore        string // memory, mongo or redis
	LogLevel             string
	LogFormat            string
	CORSAllowedOrigins   []string
	HTTPRateLimit        int // requests per second per client
	HTTPRateBurst        int
	OTELEndpoint         string
	OTELSampleRate       float64

	FeedCacheCapacity      int
	FeedEvictionDistance   int
	FeedPrefetchWifi       int
	FeedPrefetchCellular   int
	FeedPrefetchJobDelay   time.Duration
	FeedFastScrollDebounce time.Duration
	FeedTransitionTimeout  time.Duration
	FeedSettleGrace        time.Duration
	FeedViewablePercent    int
	FeedPageSize           int

	PositionSaveInterval  time.Duration
	PositionHydrate       bool // sessions preload recent positions from the store
	PositionRetentionDays int
	PositionPruneSchedule string
}

func LoadConfig() Config {
	d := feed.DefaultConfig()
	return Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:        getEnv("MONGO_DB", "feedstream"),
		MongoPostsCollection: getEnv("MONGO_POSTS_COLLECTION", "posts"),
		RedisURL:             getEnv("REDIS_URL", ""),
		PositionStore:        strings.ToLower(getEnv("POSITION_STORE", "memory")),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "text")),
		CORSAllowedOrigins:   parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPRateLimit:        int(getEnvInt64("HTTP_RATE_LIMIT_RPS", 100)),
		HTTPRateBurst:        int(getEnvInt64("HTTP_RATE_LIMIT_BURST", 200)),
		OTELEndpoint:         strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:       getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),

		FeedCacheCapacity:      int(getEnvInt64("FEED_CACHE_CAPACITY", int64(d.CacheCapacity))),
		FeedEvictionDistance:   int(getEnvInt64("FEED_EVICTION_DISTANCE", int64(d.EvictionDistance))),
		FeedPrefetchWifi:       int(getEnvInt64("FEED_PREFETCH_WIFI", int64(d.Prefetch.Wifi))),
		FeedPrefetchCellular:   int(getEnvInt64("FEED_PREFETCH_CELLULAR", int64(d.Prefetch.Cellular))),
		FeedPrefetchJobDelay:   getEnvMillis("FEED_PREFETCH_JOB_DELAY_MS", d.PrefetchJobDelay),
		FeedFastScrollDebounce: getEnvMillis("FEED_FAST_SCROLL_DEBOUNCE_MS", d.FastScrollDebounce),
		FeedTransitionTimeout:  getEnvMillis("FEED_TRANSITION_TIMEOUT_MS", d.TransitionTimeout),
		FeedSettleGrace:        getEnvMillis("FEED_SETTLE_GRACE_MS", d.SettleGrace),
		FeedViewablePercent:    int(getEnvInt64("FEED_VIEWABLE_PERCENT", int64(d.ViewablePercent))),
		FeedPageSize:           int(getEnvInt64("FEED_PAGE_SIZE", 20)),

		PositionSaveInterval:  getEnvMillis("POSITION_SAVE_INTERVAL_MS", d.PositionSaveInterval),
		PositionHydrate:       getEnvBool("POSITION_HYDRATE", true),
		PositionRetentionDays: int(getEnvInt64("POSITION_RETENTION_DAYS", 90)),
		PositionPruneSchedule: getEnv("POSITION_PRUNE_SCHEDULE", "0 4 * * *"),
	}
}

// FeedConfig returns the tuning for the main feed instance of a session.
func (c Config) FeedConfig() feed.Config {
	cfg := feed.DefaultConfig()
	cfg.CacheCapacity = c.FeedCacheCapacity
	cfg.EvictionDistance = c.FeedEvictionDistance
	cfg.Prefetch = prefetch.Window{Wifi: c.FeedPrefetchWifi, Cellular: c.FeedPrefetchCellular}
	cfg.PrefetchJobDelay = c.FeedPrefetchJobDelay
	cfg.FastScrollDebounce = c.FeedFastScrollDebounce
	cfg.TransitionTimeout = c.FeedTransitionTimeout
	cfg.SettleGrace = c.FeedSettleGrace
	cfg.ViewablePercent = float64(c.FeedViewablePercent)
	cfg.PositionSaveInterval = c.PositionSaveInterval
	return cfg
}

// PositionRetention is how long unused playback positions are kept; zero
// disables pruning.
func (c Config) PositionRetention() time.Duration {
	return time.Duration(c.PositionRetentionDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	ms := getEnvInt64(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
