package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"
)

// initLogging configures the process-wide slog logger from the viper-bound
// flags, so every component logs through the same handler.
func initLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	if verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	options := slog.HandlerOptions{Level: level}

	switch format := viper.GetString("log-format"); format {
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &options)))
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &options)))
	default:
		return fmt.Errorf("unknown log format '%s'", format)
	}

	return nil
}
