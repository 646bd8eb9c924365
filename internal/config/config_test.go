package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "chat")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "teamchat")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("SERVER_PORT", "8080")
}

func TestLoadFromEnvWithoutFile(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("TYPING_TTL", "5s")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com,https://admin.example.com")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL)
	assert.Equal(t, 60*time.Second, cfg.PresenceTimeout)
	assert.Equal(t, 5*time.Minute, cfg.OnlineWindow)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
	assert.Equal(t, []string{"https://chat.example.com", "https://admin.example.com"}, cfg.Origins())
	assert.Equal(t, "host=localhost user=chat password=secret dbname=teamchat port=5432 sslmode=disable", cfg.DSN())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "DB_HOST=db\nDB_USER=u\nDB_PASSWORD=p\nDB_NAME=n\nDB_PORT=5433\nSERVER_PORT=9000\nENVIRONMENT=development\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, "9000", cfg.ServerPort)
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.Brokers())
	assert.Empty(t, cfg.Origins())
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_PASSWORD", "")

	_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD is required")
}
