// Package config loads the bid room server configuration: built-in defaults, then an optional YAML
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nexahaul/bidroom/go/internal/bidroom/archive"
	"github.com/nexahaul/bidroom/go/internal/bidroom/gateway"
	"github.com/nexahaul/bidroom/go/internal/bidroom/registry"
	"github.com/nexahaul/bidroom/go/internal/bidroom/relay"
	"github.com/nexahaul/bidroom/go/internal/bidroom/room"
	"github.com/nexahaul/bidroom/go/internal/dbconfig"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Room       RoomConfig       `yaml:"room"`
	Connection ConnectionConfig `yaml:"connection"`
	NATS       NATSConfig       `yaml:"nats"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Log        LogConfig        `yaml:"log"`
	SeedRooms  []SeedRoom       `yaml:"seed_rooms"`

	// Database is read from DB_* only
	Database dbconfig.Config `yaml:"-"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	Reflection        bool          `yaml:"reflection"`
}

type RoomConfig struct {
	StartingPrice    string        `yaml:"starting_price"`
	MainDuration     int           `yaml:"main_duration"`
	CooldownDuration int           `yaml:"cooldown_duration"`
	StartThreshold   int           `yaml:"start_threshold"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	Retention        time.Duration `yaml:"retention"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`
	BroadcastBuffer int           `yaml:"broadcast_buffer"`
}

type NATSConfig struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	StreamName      string        `yaml:"stream_name"`
	SubjectPrefix   string        `yaml:"subject_prefix"`
	MaxAge          time.Duration `yaml:"max_age"`
	Replicas        int           `yaml:"replicas"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	BufferSize      int           `yaml:"buffer_size"`
}

type ArchiveConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Table      string        `yaml:"table"`
	BufferSize int           `yaml:"buffer_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// SeedRoom is a room created at start-up
type SeedRoom struct {
	ID            string `yaml:"id"`
	StartingPrice string `yaml:"starting_price"`
}

// Default returns the built-in configuration
func Default() Config {
	settings := room.DefaultSettings()
	reg := registry.DefaultConfig()
	conn := gateway.DefaultConnectionConfig()
	nats := relay.DefaultConfig()
	writer := archive.DefaultWriterConfig()

	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			AllowedOrigins:    []string{"*"},
			Reflection:        true,
		},
		Room: RoomConfig{
			StartingPrice:    settings.StartingPrice.String(),
			MainDuration:     settings.MainDuration,
			CooldownDuration: settings.CooldownDuration,
			StartThreshold:   settings.StartThreshold,
			TickInterval:     settings.TickInterval,
			Retention:        reg.Retention,
			SweepInterval:    reg.SweepInterval,
		},
		Connection: ConnectionConfig{
			WriteTimeout:    conn.WriteTimeout,
			ReadTimeout:     conn.ReadTimeout,
			PingInterval:    conn.PingInterval,
			MaxMessageSize:  conn.MaxMessageSize,
			SendBufferSize:  conn.SendBufferSize,
			BroadcastBuffer: conn.BroadcastBuffer,
		},
		NATS: NATSConfig{
			URL:             nats.URL,
			StreamName:      nats.StreamName,
			SubjectPrefix:   nats.SubjectPrefix,
			MaxAge:          nats.MaxAge,
			Replicas:        nats.Replicas,
			DuplicateWindow: nats.DuplicateWindow,
			BufferSize:      nats.BufferSize,
		},
		Archive: ArchiveConfig{
			Table:      "bid_room_outcomes",
			BufferSize: writer.BufferSize,
			MaxRetries: writer.MaxRetries,
			RetryDelay: writer.RetryDelay,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		SeedRooms: []SeedRoom{
			{ID: "BID12345", StartingPrice: "1000000"},
			{ID: "BID67890", StartingPrice: "500000"},
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.Database = dbconfig.NewConfigFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("BIDROOM_PORT", c.Server.Port)
	c.Log.Level = getEnv("BIDROOM_LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvAsBool("BIDROOM_LOG_PRETTY", c.Log.Pretty)
	if origins := getEnv("BIDROOM_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Enabled = getEnvAsBool("NATS_ENABLED", c.NATS.Enabled)
	c.Archive.Enabled = getEnvAsBool("ARCHIVE_ENABLED", c.Archive.Enabled)
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := c.RoomSettings(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Seeds(); err != nil {
		errs = append(errs, err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.NATS.Enabled && c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required when nats is enabled"))
	}
	if c.Archive.Enabled && c.Archive.Table == "" {
		errs = append(errs, errors.New("archive.table is required when the archive is enabled"))
	}

	return errors.Join(errs...)
}

// RoomSettings returns the settings new rooms start with
func (c *Config) RoomSettings() (room.Settings, error) {
	price, err := decimal.NewFromString(c.Room.StartingPrice)
	if err != nil {
		return room.Settings{}, fmt.Errorf("room.starting_price %q: %w", c.Room.StartingPrice, err)
	}

	settings := room.Settings{
		StartingPrice:    price,
		MainDuration:     c.Room.MainDuration,
		CooldownDuration: c.Room.CooldownDuration,
		StartThreshold:   c.Room.StartThreshold,
		TickInterval:     c.Room.TickInterval,
	}
	if err := settings.Validate(); err != nil {
		return room.Settings{}, err
	}
	return settings, nil
}

// Registry returns the registry configuration. Call Validate first.
func (c *Config) Registry() registry.Config {
	settings, _ := c.RoomSettings()
	return registry.Config{
		Defaults:      settings,
		Retention:     c.Room.Retention,
		SweepInterval: c.Room.SweepInterval,
	}
}

func (c *Config) ConnectionSettings() gateway.ConnectionConfig {
	conn := gateway.DefaultConnectionConfig()
	conn.WriteTimeout = c.Connection.WriteTimeout
	conn.ReadTimeout = c.Connection.ReadTimeout
	conn.PingInterval = c.Connection.PingInterval
	conn.MaxMessageSize = c.Connection.MaxMessageSize
	conn.SendBufferSize = c.Connection.SendBufferSize
	conn.BroadcastBuffer = c.Connection.BroadcastBuffer
	return conn
}

func (c *Config) GatewayServer() gateway.ServerConfig {
	return gateway.ServerConfig{
		AllowedOrigins: c.Server.AllowedOrigins,
		Reflection:     c.Server.Reflection,
	}
}

func (c *Config) Relay() relay.Config {
	r := relay.DefaultConfig()
	r.URL = c.NATS.URL
	r.StreamName = c.NATS.StreamName
	r.SubjectPrefix = c.NATS.SubjectPrefix
	r.MaxAge = c.NATS.MaxAge
	r.Replicas = c.NATS.Replicas
	r.DuplicateWindow = c.NATS.DuplicateWindow
	r.BufferSize = c.NATS.BufferSize
	return r
}

func (c *Config) ArchiveWriter() archive.WriterConfig {
	w := archive.DefaultWriterConfig()
	w.BufferSize = c.Archive.BufferSize
	w.MaxRetries = c.Archive.MaxRetries
	w.RetryDelay = c.Archive.RetryDelay
	return w
}

// Seed is a parsed SeedRoom
type Seed struct {
	ID            string
	StartingPrice decimal.Decimal
}

func (c *Config) Seeds() ([]Seed, error) {
	seeds := make([]Seed, 0, len(c.SeedRooms))
	seen := make(map[string]bool, len(c.SeedRooms))
	for _, s := range c.SeedRooms {
		if strings.TrimSpace(s.ID) == "" {
			return nil, errors.New("seed_rooms: id is required")
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("seed_rooms: duplicate id %q", s.ID)
		}
		seen[s.ID] = true

		price, err := decimal.NewFromString(s.StartingPrice)
		if err != nil {
			return nil, fmt.Errorf("seed_rooms %s: starting_price %q: %w", s.ID, s.StartingPrice, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("seed_rooms %s: starting_price must be positive", s.ID)
		}
		seeds = append(seeds, Seed{ID: s.ID, StartingPrice: price})
	}
	return seeds, nil
}

// LogLevel returns the parsed level, falling back to info
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
