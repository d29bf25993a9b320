package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-site/projectstats/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, envs := range envBindings {
		for _, name := range envs {
			if old, ok := os.LookupEnv(name); ok {
				require.NoError(t, os.Unsetenv(name))
				t.Cleanup(func() { os.Setenv(name, old) })
			}
		}
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, "release", cfg.GinMode)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 10, cfg.RateLimitPerMinute)
	assert.Equal(t, 60, cfg.RateLimitWindowSec)
	assert.Equal(t, 30, cfg.TotalsCacheTTLSec)
	assert.Equal(t, 50, cfg.BatchMaxIDs)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURI)
	assert.Empty(t, cfg.AdminToken)
	assert.Empty(t, cfg.RedisHost)
}

func TestLoadFrom_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"app": {"port": "9090", "allowed_origins": ["https://example.dev", " https://www.example.dev "]},
		"database": {"uri": "sqlite://stats.db"},
		"admin": {"token": "file-secret"},
		"ratelimit": {"per_minute": 5, "window_sec": 30},
		"log": {"level": "DEBUG"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.AppPort)
	assert.Equal(t, []string{"https://example.dev", "https://www.example.dev"}, cfg.AllowedOrigins)
	assert.Equal(t, "sqlite://stats.db", cfg.DatabaseURI)
	assert.Equal(t, "file-secret", cfg.AdminToken)
	assert.Equal(t, 5, cfg.RateLimitPerMinute)
	assert.Equal(t, 30, cfg.RateLimitWindowSec)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"admin": {"token": "file-secret"}}`), 0o600))

	t.Setenv("ADMIN_TOKEN", "env-secret")
	t.Setenv("NETLIFY_DATABASE_URL", "postgres://u:p@db.example.dev/stats")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.dev, https://b.dev,")
	t.Setenv("PORT", "3000")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.AdminToken)
	assert.Equal(t, "postgres://u:p@db.example.dev/stats", cfg.DatabaseURI)
	assert.Equal(t, []string{"https://a.dev", "https://b.dev"}, cfg.AllowedOrigins)
	assert.Equal(t, "3000", cfg.AppPort)
}

func TestLoadFrom_RejectsNonPositiveRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")

	_, err := LoadFrom("")
	assert.Error(t, err)
}

func TestDialectorFor(t *testing.T) {
	tests := []struct {
		dsn     string
		sqlite  bool
		wantErr bool
	}{
		{dsn: "postgres://u:p@localhost:5432/stats?sslmode=disable"},
		{dsn: "postgresql://u:p@localhost/stats"},
		{dsn: "mysql://root:pw@tcp(127.0.0.1:3306)/stats"},
		{dsn: "root:pw@tcp(127.0.0.1:3306)/stats"},
		{dsn: "sqlite://stats.db", sqlite: true},
		{dsn: "sqlite://", wantErr: true},
		{dsn: "", wantErr: true},
		{dsn: "redis://localhost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			d, isSQLite, err := dialectorFor(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, d)
			assert.Equal(t, tt.sqlite, isSQLite)
		})
	}
}

func TestOpenDatabase_SQLiteCreatesTable(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "stats.db")

	db, err := OpenDatabase(dsn, "silent", nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.True(t, db.Migrator().HasTable(&models.ProjectStats{}))
	for _, col := range []string{"id", "likes", "shares", "views"} {
		assert.True(t, db.Migrator().HasColumn(&models.ProjectStats{}, col), col)
	}

	// Reopening an existing database keeps the table as is.
	again, err := OpenDatabase(dsn, "silent", nil)
	require.NoError(t, err)
	againDB, _ := again.DB()
	againDB.Close()
}
