package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("CSRF_KEY", "")
	t.Setenv("WRITE_RATE_PER_MIN", "")
	t.Setenv("WRITE_BURST", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.ServerPort)
	assert.Equal(t, "./school.db", cfg.DBPath)
	assert.Len(t, cfg.CSRFKey, 32)
	assert.Equal(t, 60.0, cfg.WriteRatePerMin)
	assert.Equal(t, 10, cfg.WriteBurst)
}

func TestLoad_EnvOverrides(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("DB_PATH", "/tmp/other.db")
	t.Setenv("CSRF_KEY", base64.StdEncoding.EncodeToString(key))
	t.Setenv("WRITE_RATE_PER_MIN", "120")
	t.Setenv("WRITE_BURST", "3")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.ServerPort)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, key, cfg.CSRFKey)
	assert.Equal(t, 120.0, cfg.WriteRatePerMin)
	assert.Equal(t, 3, cfg.WriteBurst)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CSRF_KEY", "too-short")
	t.Setenv("WRITE_RATE_PER_MIN", "fast")
	t.Setenv("WRITE_BURST", "-1")

	cfg := Load()
	require.Len(t, cfg.CSRFKey, 32)
	assert.Equal(t, 60.0, cfg.WriteRatePerMin)
	assert.Equal(t, 10, cfg.WriteBurst)
}
