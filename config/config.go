package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Engine    EngineConfig
	Pool      PoolConfig
	Cache     CacheConfig
	Rules     RulesConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string
}

// EngineConfig controls the fetch decision and retry policy.
type EngineConfig struct {
	// StaticTimeout bounds a single static HTTP attempt.
	StaticTimeout time.Duration // default: 10s

	// RenderTimeout bounds a single browser render attempt.
	RenderTimeout time.Duration // default: 20s (RENDER_TIMEOUT)

	// MaxRetries is the total attempt budget per fetch call.
	MaxRetries int // default: 5 (MAX_RETRIES)

	// DefaultWaitTime is the settle delay after network quiescence
	// when no domain rule specifies one.
	DefaultWaitTime time.Duration // default: 1.5s (DEFAULT_WAIT_TIME)

	// BlockResources is the global default for request interception.
	BlockResources bool // default: true (BLOCK_RESOURCES)

	// StealthDefault enables stealth on heuristic render decisions
	// (domain rules still override per host).
	StealthDefault bool // default: false (STEALTH_MODE_DEFAULT)

	// BackoffBase and BackoffCap shape the retry backoff schedule.
	BackoffBase time.Duration // default: 500ms
	BackoffCap  time.Duration // default: 10s

	// EmptyThreshold is the minimal viable content size in bytes;
	// smaller bodies without challenge markers classify as Empty.
	EmptyThreshold int // default: 500
}

// PoolConfig controls the browser session pool.
type PoolConfig struct {
	// MaxSessions is the pool capacity (max concurrent renders).
	MaxSessions int // default: 10

	// AcquireTimeout bounds how long a render waits for a free session
	// before failing with POOL_EXHAUSTED.
	AcquireTimeout time.Duration // default: 15s

	// IdleTTL retires sessions that sat unused for this long.
	IdleTTL time.Duration // default: 5m

	// MaxUses and MaxAge retire sessions after heavy or long use.
	MaxUses int           // default: 50
	MaxAge  time.Duration // default: 45m
}

// CacheConfig controls the page result cache.
type CacheConfig struct {
	// TTL is the default entry lifetime.
	TTL time.Duration // default: 1h (CACHE_TTL)

	// MaxEntries is the maximum number of cached results.
	MaxEntries int // default: 1000
}

// RulesConfig controls the domain rule table.
type RulesConfig struct {
	// FilePath optionally points to a JSON file of domain rules that
	// replace the built-in table.
	FilePath string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool     // default: false
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
//
// The engine knobs use the bare names the deployment docs promise
// (CACHE_TTL, RENDER_TIMEOUT, MAX_RETRIES, DEFAULT_WAIT_TIME,
// BLOCK_RESOURCES, STEALTH_MODE_DEFAULT); service plumbing uses the
// SCRAPIGEN_ prefix.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("SCRAPIGEN_HOST", "0.0.0.0"),
			Port: envIntOr("SCRAPIGEN_PORT", 8080),
			Mode: envOr("SCRAPIGEN_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("SCRAPIGEN_HEADLESS", true),
			NoSandbox:    envBoolOr("SCRAPIGEN_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("SCRAPIGEN_BROWSER_BIN"),
			DefaultProxy: os.Getenv("SCRAPIGEN_PROXY"),
		},
		Engine: EngineConfig{
			StaticTimeout:   envDurationOr("SCRAPIGEN_STATIC_TIMEOUT", 10*time.Second),
			RenderTimeout:   envSecondsOr("RENDER_TIMEOUT", 20*time.Second),
			MaxRetries:      envIntOr("MAX_RETRIES", 5),
			DefaultWaitTime: envSecondsOr("DEFAULT_WAIT_TIME", 1500*time.Millisecond),
			BlockResources:  envBoolOr("BLOCK_RESOURCES", true),
			StealthDefault:  envBoolOr("STEALTH_MODE_DEFAULT", false),
			BackoffBase:     envDurationOr("SCRAPIGEN_BACKOFF_BASE", 500*time.Millisecond),
			BackoffCap:      envDurationOr("SCRAPIGEN_BACKOFF_CAP", 10*time.Second),
			EmptyThreshold:  envIntOr("SCRAPIGEN_EMPTY_THRESHOLD", 500),
		},
		Pool: PoolConfig{
			MaxSessions:    envIntOr("SCRAPIGEN_MAX_SESSIONS", 10),
			AcquireTimeout: envDurationOr("SCRAPIGEN_ACQUIRE_TIMEOUT", 15*time.Second),
			IdleTTL:        envDurationOr("SCRAPIGEN_IDLE_TTL", 5*time.Minute),
			MaxUses:        envIntOr("SCRAPIGEN_SESSION_MAX_USES", 50),
			MaxAge:         envDurationOr("SCRAPIGEN_SESSION_MAX_AGE", 45*time.Minute),
		},
		Cache: CacheConfig{
			TTL:        envSecondsOr("CACHE_TTL", time.Hour),
			MaxEntries: envIntOr("CACHE_MAX_ENTRIES", 1000),
		},
		Rules: RulesConfig{
			FilePath: os.Getenv("SCRAPIGEN_RULES_FILE"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("SCRAPIGEN_AUTH_ENABLED", false),
			APIKeys: envSliceOr("SCRAPIGEN_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("SCRAPIGEN_RATE_RPS", 5.0),
			Burst:             envIntOr("SCRAPIGEN_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("SCRAPIGEN_LOG_LEVEL", "info"),
			Format: envOr("SCRAPIGEN_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envSecondsOr parses either a plain number of seconds ("20", "1.5") or a
// Go duration string ("20s"). The deployment-facing engine knobs are
// documented in seconds, so bare numbers must work.
func envSecondsOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
