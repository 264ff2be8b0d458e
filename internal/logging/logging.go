package logging

import (
	"io"
	"os"

	"github.com/goodtune/basetrack/internal/config"
	"github.com/rs/zerolog"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger from the logging configuration.
// With a file configured, output goes to a rotating file; the returned
// closer releases it and is a no-op otherwise.
func New(cfg config.LoggingConfig) (zerolog.Logger, io.Closer) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotating := &lj.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = rotating
		closer = rotating
	}

	// Set output format
	if cfg.Format == "text" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.File != ""}
	}

	return zerolog.New(out).With().Timestamp().Logger(), closer
}

// ParseLevel maps a configured level name to a zerolog level.
// Unknown names fall back to info.
func ParseLevel(name string) zerolog.Level {
	switch name {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
