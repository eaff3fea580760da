package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Debug  bool   `mapstructure:"debug"`
	Output string `mapstructure:"output"`
}

// newLogger builds the process logger. Debug overrides Level.
func newLogger(cfg LogConfig) (zerolog.Logger, error) {
	var output io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		output = os.Stdout
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}
