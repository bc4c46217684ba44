package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pario-ai/gatecache/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logFlags struct {
	level  string
	format string
}

// setupLogging configures the global logger. Flags win over
// GATECACHE_LOG_LEVEL / GATECACHE_LOG_FORMAT, which win over the config
// file's log section. Logs always go to stderr; stdout carries tables and
// the MCP stream.
func setupLogging(cfg *config.Config) error {
	level := firstNonEmpty(logFlags.level, os.Getenv("GATECACHE_LOG_LEVEL"))
	format := firstNonEmpty(logFlags.format, os.Getenv("GATECACHE_LOG_FORMAT"))
	if cfg != nil {
		level = firstNonEmpty(level, cfg.Log.Level)
		format = firstNonEmpty(format, cfg.Log.Format)
	}
	level = firstNonEmpty(level, "info")

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "", "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "console":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q (use json or console)", format)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
