package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the gateway
type Config struct {
	GatewayID      string        `toml:"gateway_id"`
	GatewayPort    int           `toml:"gateway_port"`
	HTTPPort       int           `toml:"http_port"`
	RedisURL       string        `toml:"redis_url"`
	NATSURL        string        `toml:"nats_url"`
	DatabaseURL    string        `toml:"database_url"`
	JWTSecret      string        `toml:"jwt_secret"`
	Protocol       string        `toml:"protocol"`
	Encoding       string        `toml:"encoding"`
	ReadBufferSize int           `toml:"read_buffer_size"`
	SessionTTL     time.Duration `toml:"-"`
	RawSessionTTL  string        `toml:"session_ttl"`
	Serial         SerialConfig  `toml:"serial"`
	Replay         ReplayConfig  `toml:"replay"`
}

// SerialConfig describes an optional serial channel. An empty Device disables it.
type SerialConfig struct {
	Device         string        `toml:"device"`
	BaudRate       int           `toml:"baud_rate"`
	DataBits       int           `toml:"data_bits"`
	Parity         string        `toml:"parity"`
	StopBits       string        `toml:"stop_bits"`
	ReadTimeout    time.Duration `toml:"-"`
	RawReadTimeout string        `toml:"read_timeout"`
}

// ReplayConfig describes an optional capture file fed as a channel. An empty
// File disables it.
type ReplayConfig struct {
	File        string        `toml:"file"`
	ChunkSize   int           `toml:"chunk_size"`
	Interval    time.Duration `toml:"-"`
	RawInterval string        `toml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		GatewayID:      "node-01",
		GatewayPort:    8080,
		HTTPPort:       8081,
		RedisURL:       "localhost:6379",
		NATSURL:        "nats://localhost:4222",
		Protocol:       "sample",
		Encoding:       "gb2312",
		ReadBufferSize: 4096,
		SessionTTL:     300 * time.Second,
		Serial: SerialConfig{
			BaudRate:    9600,
			DataBits:    8,
			Parity:      "none",
			StopBits:    "1",
			ReadTimeout: time.Second,
		},
		Replay: ReplayConfig{
			ChunkSize: 64,
			Interval:  10 * time.Millisecond,
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// any), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadToml(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadToml(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.RawSessionTTL, "session_ttl", &cfg.SessionTTL},
		{cfg.Serial.RawReadTimeout, "serial.read_timeout", &cfg.Serial.ReadTimeout},
		{cfg.Replay.RawInterval, "replay.interval", &cfg.Replay.Interval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.GatewayID = getEnv("GATEWAY_ID", cfg.GatewayID)
	cfg.GatewayPort = getEnvAsInt("GATEWAY_PORT", cfg.GatewayPort)
	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", cfg.HTTPPort)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.Protocol = getEnv("FRAME_PROTOCOL", cfg.Protocol)
	cfg.Encoding = getEnv("TEXT_ENCODING", cfg.Encoding)
	cfg.ReadBufferSize = getEnvAsInt("READ_BUFFER_SIZE", cfg.ReadBufferSize)
	cfg.Serial.Device = getEnv("SERIAL_DEVICE", cfg.Serial.Device)
	cfg.Serial.BaudRate = getEnvAsInt("SERIAL_BAUD_RATE", cfg.Serial.BaudRate)
	cfg.Serial.Parity = getEnv("SERIAL_PARITY", cfg.Serial.Parity)
	cfg.Serial.StopBits = getEnv("SERIAL_STOP_BITS", cfg.Serial.StopBits)
	cfg.Replay.File = getEnv("REPLAY_FILE", cfg.Replay.File)

	ttl, err := getEnvAsDuration("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return err
	}
	cfg.SessionTTL = ttl
	return nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.GatewayID) == "" {
		errs = append(errs, errors.New("gateway_id is required"))
	}
	if c.GatewayPort < 0 || c.GatewayPort > 65535 {
		errs = append(errs, fmt.Errorf("gateway_port out of range: %d", c.GatewayPort))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port out of range: %d", c.HTTPPort))
	}
	if strings.TrimSpace(c.Protocol) == "" {
		errs = append(errs, errors.New("protocol is required"))
	}
	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer_size must be positive: %d", c.ReadBufferSize))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("session_ttl must be positive: %s", c.SessionTTL))
	}
	if c.Serial.Device != "" {
		if c.Serial.BaudRate <= 0 {
			errs = append(errs, fmt.Errorf("serial.baud_rate must be positive: %d", c.Serial.BaudRate))
		}
		if c.Serial.DataBits < 5 || c.Serial.DataBits > 8 {
			errs = append(errs, fmt.Errorf("serial.data_bits must be 5-8: %d", c.Serial.DataBits))
		}
	}
	if c.Replay.File != "" && c.Replay.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("replay.chunk_size must be positive: %d", c.Replay.ChunkSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
