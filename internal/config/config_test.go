package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "./data", c.DataDir)
	assert.Equal(t, "./configs", c.ConfigDir)
	assert.Equal(t, -1, c.SnapshotEvery)
	assert.False(t, c.DisableDB)
	lvl, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)
}

func TestLoadFrom_Overrides(t *testing.T) {
	c, err := LoadFrom(map[string]string{
		"STATECRAFT_DATA_DIR":       "/var/statecraft",
		"STATECRAFT_SNAPSHOT_EVERY": "5",
		"STATECRAFT_METRICS_ADDR":   "127.0.0.1:9100",
		"STATECRAFT_DISABLE_DB":     "true",
		"STATECRAFT_LOG_LEVEL":      "DEBUG",
	})
	require.NoError(t, err)
	assert.Equal(t, "/var/statecraft", c.DataDir)
	assert.Equal(t, 5, c.SnapshotEvery)
	assert.Equal(t, "127.0.0.1:9100", c.MetricsAddr)
	assert.True(t, c.DisableDB)
	lvl, _ := c.Level()
	assert.Equal(t, zerolog.DebugLevel, lvl)
}

func TestLoadFrom_Rejects(t *testing.T) {
	_, err := LoadFrom(map[string]string{"STATECRAFT_SNAPSHOT_EVERY": "often"})
	require.Error(t, err)
	_, err = LoadFrom(map[string]string{"STATECRAFT_LOG_LEVEL": "chatty"})
	require.Error(t, err)
}

func TestLoadFrom_Mirror(t *testing.T) {
	c, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	assert.False(t, c.Mirror.Enabled())
	assert.Equal(t, "auto", c.Mirror.Region)
	assert.Equal(t, "statecraft", c.Mirror.Prefix)

	c, err = LoadFrom(map[string]string{
		"STATECRAFT_MIRROR_ENDPOINT":          "https://acct.r2.cloudflarestorage.com",
		"STATECRAFT_MIRROR_BUCKET":            "runs",
		"STATECRAFT_MIRROR_ACCESS_KEY_ID":     "ak",
		"STATECRAFT_MIRROR_SECRET_ACCESS_KEY": "sk",
		"STATECRAFT_MIRROR_WORKERS":           "4",
	})
	require.NoError(t, err)
	assert.True(t, c.Mirror.Enabled())
	assert.Equal(t, "runs", c.Mirror.Bucket)
	assert.Equal(t, "sk", c.Mirror.SecretAccessKey)
	assert.Equal(t, 4, c.Mirror.Workers)
}
