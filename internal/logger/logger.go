// Package logger initializes and configures the global zerolog instance.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds configuration options for the application logger.
type Config struct {
	Level  string `long:"level" env:"LEVEL" description:"Log level (trace, debug, info, warn, error)" default:"info"`
	Format string `long:"format" env:"FORMAT" description:"Log format (console or json)" default:"console"`
	Output string `long:"output" env:"OUTPUT" description:"Log output (stdout, stderr or file path)" default:"stderr"`

	MaxSizeMB  int `long:"max-size" env:"MAX_SIZE" description:"Rotate log file after this many megabytes" default:"50"`
	MaxBackups int `long:"max-backups" env:"MAX_BACKUPS" description:"Rotated log files to keep" default:"3"`
}

// Setup initializes the global logger based on the provided configuration options.
// File outputs are rotated by lumberjack.
func Setup(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = New(cfg, Writer(cfg))
}

// Writer resolves the configured output destination
func Writer(cfg Config) io.Writer {
	switch cfg.Output {
	case "stdout":
		return os.Stdout
	case "stderr", "":
		return os.Stderr
	default:
		return &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}
}

// New builds a logger writing to w in the configured format
func New(cfg Config, w io.Writer) zerolog.Logger {
	if cfg.Format == "json" {
		return zerolog.New(w).With().Timestamp().Logger()
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}

	// Colors only on a terminal and when NO_COLOR is not set
	if f, ok := w.(*os.File); !ok || os.Getenv("NO_COLOR") != "" || !isTerminal(f) {
		consoleWriter.NoColor = true
	}

	return zerolog.New(consoleWriter).With().Timestamp().Logger()
}

// isTerminal checks if the provided file descriptor refers to a character device (terminal).
func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}

	return (stat.Mode() & os.ModeCharDevice) != 0
}
