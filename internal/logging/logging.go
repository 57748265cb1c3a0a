package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Profile selects a baseline logger setup.
type Profile int

const (
	// Runtime logs at info with timestamps to stdout.
	Runtime Profile = iota
	// Test logs everything without timestamps.
	Test
)

const (
	envLevel   = "FRAMEGATE_LOG_LEVEL"
	envNoColor = "FRAMEGATE_LOG_NOCOLOR"
	envJSON    = "FRAMEGATE_LOG_JSON"
)

var configureOnce sync.Once

// Configure installs the process-wide logger. Only the first call has effect.
func Configure(profile Profile) zerolog.Logger {
	configureOnce.Do(func() {
		log.Logger = build(profile, os.Stdout, os.Getenv)
	})
	return log.Logger
}

func build(profile Profile, out io.Writer, getenv func(string) string) zerolog.Logger {
	level := zerolog.InfoLevel
	if profile == Test {
		level = zerolog.DebugLevel
	}
	if raw := getenv(envLevel); raw != "" {
		level = parseLevel(raw, level)
	}

	var w io.Writer = out
	if !truthy(getenv(envJSON)) {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    truthy(getenv(envNoColor)) || profile == Test,
		}
	}

	ctx := zerolog.New(w).Level(level).With()
	if profile == Runtime {
		ctx = ctx.Timestamp()
	}
	return ctx.Str("app", "framegate").Logger()
}

// For returns a child of the global logger tagged with component.
func For(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

func parseLevel(raw string, fallback zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "warning":
		return zerolog.WarnLevel
	case "off", "none":
		return zerolog.Disabled
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || level == zerolog.NoLevel {
		return fallback
	}
	return level
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
