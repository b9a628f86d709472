package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "places.db", cfg.Store.Path)
	assert.Equal(t, 100, cfg.Places.PageSize)
	assert.Equal(t, 3, cfg.Crawl.GridRows)
	assert.Equal(t, 3, cfg.Crawl.GridCols)
	assert.InDelta(t, 50, cfg.Crawl.MaxRadiusKM, 0.001)
	assert.Equal(t, 10, cfg.Crawl.MaxDepth)
	assert.InDelta(t, 10, cfg.Crawl.RateLimit, 0.001)
	assert.Equal(t, 1, cfg.Crawl.Concurrency)
	assert.Equal(t, 3, cfg.Export.CategoryColumns)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yamlDoc := `
store:
  driver: postgres
  database_url: postgres://localhost/places
places:
  app_id: test-app
  page_size: 50
crawl:
  max_depth: 6
log:
  level: debug
  format: console
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlDoc), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/places", cfg.Store.DatabaseURL)
	assert.Equal(t, "test-app", cfg.Places.AppID)
	assert.Equal(t, 50, cfg.Places.PageSize)
	assert.Equal(t, 6, cfg.Crawl.MaxDepth)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 10.0, cfg.Crawl.RateLimit)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtemp(t)

	yamlDoc := `
store:
  driver: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlDoc), 0644))

	t.Setenv("PLACECRAWL_STORE_DRIVER", "postgres")
	t.Setenv("PLACECRAWL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)

	t.Setenv("PLACECRAWL_SERVER_PORT", "3000")
	t.Setenv("PLACECRAWL_PLACES_APP_ID", "env-app")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "env-app", cfg.Places.AppID)
}

func TestStoreDSN(t *testing.T) {
	s := StoreConfig{Driver: "sqlite", Path: "p.db", DatabaseURL: "postgres://x"}
	assert.Equal(t, "p.db", s.DSN())

	s.Driver = "postgres"
	assert.Equal(t, "postgres://x", s.DSN())
}

func TestValidateCrawl_AllPresent(t *testing.T) {
	cfg := Default()
	cfg.Places.AppID = "app"
	cfg.Places.AppCode = "code"

	assert.NoError(t, cfg.Validate("crawl"))
}

func TestValidateCrawl_MissingCredentials(t *testing.T) {
	cfg := Default()

	err := cfg.Validate("crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "places.app_id is required")
	assert.Contains(t, err.Error(), "places.app_code is required")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/places"
	assert.NoError(t, cfg.Validate("status"))
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "oracle"

	err := cfg.Validate("status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := Default()
	cfg.Places.AppID = "app"
	cfg.Places.AppCode = "code"

	cfg.Crawl.Concurrency = 0
	err := cfg.Validate("crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency must be between 1 and 64")

	cfg.Crawl.Concurrency = 65
	err = cfg.Validate("crawl")
	require.Error(t, err)

	cfg.Crawl.Concurrency = 64
	assert.NoError(t, cfg.Validate("crawl"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := Default().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestDefaultYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(out, &cfg))
	assert.Equal(t, *Default(), cfg)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
