package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig holds environment driven configuration values.
// Secrets (database URI, admin token) have no defaults and must come from config file, .env or the environment.
type AppConfig struct {
	AppPort        string
	AllowedOrigins []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Storage connection string; its scheme selects the gorm dialect
	DatabaseURI string
	// Bulk reset secret, plain or bcrypt hash
	AdminToken     string
	AdminTokenHash string
	// Write path rate limiting
	RateLimitPerMinute int
	RateLimitWindowSec int
	// Stats endpoint tuning
	TotalsCacheTTLSec int
	BatchMaxIDs       int
	// Redis for the totals cache; disabled when RedisHost is empty
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var (
	cfg      AppConfig
	loadOnce sync.Once
)

// envBindings maps config keys to the environment variables that override them, first match wins.
var envBindings = map[string][]string{
	"app.port":               {"APP_PORT", "PORT"},
	"app.allowed_origins":    {"CORS_ALLOWED_ORIGINS"},
	"app.gin_mode":           {"GIN_MODE"},
	"app.gin_path":           {"GIN_PATH", "GIN_LOG_PATH"},
	"database.uri":           {"DATABASE_URI", "DATABASE_URL", "NETLIFY_DATABASE_URL"},
	"admin.token":            {"ADMIN_TOKEN"},
	"admin.token_hash":       {"ADMIN_TOKEN_HASH"},
	"ratelimit.per_minute":   {"RATE_LIMIT_PER_MINUTE"},
	"ratelimit.window_sec":   {"RATE_LIMIT_WINDOW_SEC"},
	"stats.totals_cache_ttl": {"STATS_TOTALS_CACHE_TTL_SEC"},
	"stats.batch_max_ids":    {"STATS_BATCH_MAX_IDS"},
	"redis.host":             {"REDIS_HOST"},
	"redis.port":             {"REDIS_PORT"},
	"redis.db":               {"REDIS_DB"},
	"redis.password":         {"REDIS_PASSWORD"},
	"log.level":              {"LOG_LEVEL"},
	"log.path":               {"LOG_PATH"},
	"log.max_size_mb":        {"LOG_MAX_SIZE_MB"},
	"log.max_backups":        {"LOG_MAX_BACKUPS"},
	"log.max_age_days":       {"LOG_MAX_AGE_DAYS"},
	"log.compress":           {"LOG_COMPRESS"},
}

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	loadOnce.Do(func() {
		// A missing .env is normal outside local development.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("ignoring unreadable .env: %v", err)
		}

		path := os.Getenv("APP_CONFIG")
		if path == "" {
			path = filepath.Join("config", "config.json")
		}
		loaded, err := LoadFrom(path)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	})
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	return Load()
}

// LoadFrom builds a configuration from an optional file at path, defaults and environment overrides.
// Precedence: environment -> file -> defaults.
func LoadFrom(path string) (AppConfig, error) {
	v := viper.New()
	applyDefaults(v)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return AppConfig{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return AppConfig{}, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	c := AppConfig{
		AppPort:            v.GetString("app.port"),
		AllowedOrigins:     stringList(v.Get("app.allowed_origins")),
		GinMode:            v.GetString("app.gin_mode"),
		GinPath:            v.GetString("app.gin_path"),
		DatabaseURI:        strings.TrimSpace(v.GetString("database.uri")),
		AdminToken:         v.GetString("admin.token"),
		AdminTokenHash:     v.GetString("admin.token_hash"),
		RateLimitPerMinute: v.GetInt("ratelimit.per_minute"),
		RateLimitWindowSec: v.GetInt("ratelimit.window_sec"),
		TotalsCacheTTLSec:  v.GetInt("stats.totals_cache_ttl"),
		BatchMaxIDs:        v.GetInt("stats.batch_max_ids"),
		RedisHost:          v.GetString("redis.host"),
		RedisPort:          v.GetInt("redis.port"),
		RedisDB:            v.GetInt("redis.db"),
		RedisPassword:      v.GetString("redis.password"),
		LogLevel:           strings.ToLower(v.GetString("log.level")),
		LogPath:            v.GetString("log.path"),
		LogMaxSizeMB:       v.GetInt("log.max_size_mb"),
		LogMaxBackups:      v.GetInt("log.max_backups"),
		LogMaxAgeDays:      v.GetInt("log.max_age_days"),
		LogCompress:        v.GetBool("log.compress"),
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.RateLimitPerMinute <= 0 {
		return AppConfig{}, fmt.Errorf("ratelimit.per_minute must be positive, got %d", c.RateLimitPerMinute)
	}
	if c.RateLimitWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("ratelimit.window_sec must be positive, got %d", c.RateLimitWindowSec)
	}
	return c, nil
}

// applyDefaults sets sane defaults for everything that is not a secret.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.gin_mode", "release")
	v.SetDefault("app.gin_path", "logs/go_gin.log")
	v.SetDefault("ratelimit.per_minute", 10)
	v.SetDefault("ratelimit.window_sec", 60)
	v.SetDefault("stats.totals_cache_ttl", 30)
	v.SetDefault("stats.batch_max_ids", 50)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
}

// stringList accepts a JSON array or a comma separated string.
func stringList(raw any) []string {
	switch t := raw.(type) {
	case string:
		return splitAndTrim(t)
	case []string:
		return splitAndTrim(strings.Join(t, ","))
	case []any:
		items := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok {
				items = append(items, s)
			}
		}
		return splitAndTrim(strings.Join(items, ","))
	}
	return nil
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
