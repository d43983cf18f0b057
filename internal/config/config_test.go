package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, -50.0, config.Detection.DumpThreshold)
	assert.Equal(t, 50, config.Networks.DetectionThreshold)
	assert.Equal(t, 76, config.Scoring.SerialOffenderMin)
	assert.Equal(t, 15*time.Minute, config.Redis.LockTTL)
}

func TestLoad_FileOverridesAndBackfill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database:
  dsn: postgres://localhost/promatrix
detection:
  dump_threshold: -60
  window_days: 90
http:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/promatrix", config.Database.DSN)
	assert.Equal(t, -60.0, config.Detection.DumpThreshold)
	assert.Equal(t, 90, config.Detection.WindowDays)
	assert.Equal(t, 9090, config.HTTP.Port)

	// Fields the file omits get backfilled.
	assert.Equal(t, 10, config.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Second, config.Database.QueryTimeout)
	assert.Equal(t, 100, config.Scoring.MaxScore)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://env/db")
	t.Setenv("DUMP_THRESHOLD", "-70")
	t.Setenv("REDIS_ADDR", "redis:6380")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", config.Database.DSN)
	assert.Equal(t, -70.0, config.Detection.DumpThreshold)
	assert.Equal(t, "redis:6380", config.Redis.Addr)
}

func TestValidate_RejectsPositiveDumpThreshold(t *testing.T) {
	config := Default()
	config.Detection.DumpThreshold = 10
	assert.Error(t, config.Validate())
}

func TestValidate_RejectsThresholdAboveMax(t *testing.T) {
	config := Default()
	config.Networks.DetectionThreshold = 150
	assert.Error(t, config.Validate())
}
