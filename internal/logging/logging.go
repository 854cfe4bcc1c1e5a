// Package logging builds the zerolog logger handed to every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rcliao/stream-fusion/internal/config"
)

// ParseLevel maps debug, info, warn and error to zerolog levels. Anything
// else is info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// New returns a logger writing to out, and also to cfg.File when set. The
// returned close func releases the file and is safe to call when no file
// was opened.
func New(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, func() error, error) {
	closer := func() error { return nil }

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"})
	} else {
		writers = append(writers, out)
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f.Close
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", "stream-fusion").
		Logger()
	return log, closer, nil
}
