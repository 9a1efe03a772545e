package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"BIDROOM_PORT", "BIDROOM_LOG_LEVEL", "BIDROOM_LOG_PRETTY", "BIDROOM_ALLOWED_ORIGINS",
	"NATS_URL", "NATS_ENABLED", "ARCHIVE_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bidroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	settings, err := cfg.RoomSettings()
	require.NoError(t, err)
	assert.True(t, settings.StartingPrice.Equal(decimal.NewFromInt(1000000)))
	assert.Equal(t, 1800, settings.MainDuration)
	assert.Equal(t, 60, settings.CooldownDuration)
	assert.Equal(t, 2, settings.StartThreshold)

	seeds, err := cfg.Seeds()
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "BID12345", seeds[0].ID)
	assert.True(t, seeds[1].StartingPrice.Equal(decimal.NewFromInt(500000)))

	assert.Equal(t, time.Hour, cfg.Registry().Retention)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
  allowed_origins: ["https://shipper.example"]
room:
  starting_price: "250000.50"
  main_duration: 600
  cooldown_duration: 30
  tick_interval: 500ms
  retention: 15m
nats:
  enabled: true
  subject_prefix: auctions
seed_rooms:
  - id: LANE-1
    starting_price: "42000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://shipper.example"}, cfg.GatewayServer().AllowedOrigins)

	settings, err := cfg.RoomSettings()
	require.NoError(t, err)
	assert.Equal(t, "250000.5", settings.StartingPrice.String())
	assert.Equal(t, 600, settings.MainDuration)
	assert.Equal(t, 500*time.Millisecond, settings.TickInterval)
	assert.Equal(t, 2, settings.StartThreshold, "unset keys keep their defaults")
	assert.Equal(t, 15*time.Minute, cfg.Registry().Retention)

	assert.Equal(t, "auctions", cfg.Relay().SubjectPrefix)
	assert.Equal(t, "BIDROOM_EVENTS", cfg.Relay().StreamName)

	seeds, err := cfg.Seeds()
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "LANE-1", seeds[0].ID)
	assert.True(t, seeds[0].StartingPrice.Equal(decimal.NewFromInt(42000)))
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  port: 9090\nlog:\n  level: warn\n")
	t.Setenv("BIDROOM_PORT", "7070")
	t.Setenv("BIDROOM_LOG_LEVEL", "debug")
	t.Setenv("BIDROOM_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("NATS_ENABLED", "true")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("ARCHIVE_ENABLED", "1")
	t.Setenv("DB_NAME", "auctions")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://nats:4222", cfg.Relay().URL)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "auctions", cfg.Database.Database)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "bad_price", body: "room:\n  starting_price: lots\n", want: "room.starting_price"},
		{name: "zero_price", body: "room:\n  starting_price: \"0\"\n", want: "starting price must be positive"},
		{name: "zero_cooldown", body: "room:\n  cooldown_duration: 0\n", want: "cooldown duration must be positive"},
		{name: "bad_port", body: "server:\n  port: 70000\n", want: "server.port"},
		{name: "bad_level", body: "log:\n  level: loud\n", want: "log.level"},
		{name: "duplicate_seed", body: "seed_rooms:\n  - {id: A, starting_price: \"1\"}\n  - {id: A, starting_price: \"2\"}\n", want: "duplicate id"},
		{name: "negative_seed", body: "seed_rooms:\n  - {id: A, starting_price: \"-1\"}\n", want: "must be positive"},
		{name: "archive_without_table", body: "archive:\n  enabled: true\n  table: \"\"\n", want: "archive.table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestExampleConfigLoads(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "..", "config", "bidroom.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.SeedRooms, 2)
	assert.Equal(t, 30*time.Second, cfg.ConnectionSettings().PingInterval)
}
