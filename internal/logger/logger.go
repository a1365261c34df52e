// Package logger initializes and configures the global zerolog instance.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds configuration options for the application logger.
type Config struct {
	Level  string `long:"level" env:"LEVEL" description:"Log level (trace, debug, info, warn, error)" default:"info" json:"level"`
	Format string `long:"format" env:"FORMAT" description:"Log format (console or json)" default:"console" json:"format"`
	Output string `long:"output" env:"OUTPUT" description:"Log output (stdout, stderr or file path)" default:"stderr" json:"output"`
}

// Setup configures the global logger and returns a closer for a file output.
// The returned function is never nil.
func Setup(cfg Config) func() error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.DurationFieldUnit = time.Millisecond

	writer, closer := openOutput(cfg.Output)
	log.Logger = New(writer, cfg.Format)

	return closer
}

// New builds a logger for the writer in the given format (json or console).
func New(writer io.Writer, format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(writer).With().Timestamp().Logger()
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        writer,
		TimeFormat: time.RFC3339,
	}

	// Colors only on a terminal without NO_COLOR
	consoleWriter.NoColor = true
	if f, ok := writer.(*os.File); ok && os.Getenv("NO_COLOR") == "" && isTerminal(f) {
		consoleWriter.NoColor = false
	}

	return zerolog.New(consoleWriter).With().Timestamp().Logger()
}

func openOutput(output string) (io.Writer, func() error) {
	noop := func() error { return nil }

	switch output {
	case "", "stderr":
		return os.Stderr, noop
	case "stdout":
		return os.Stdout, noop
	}

	file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		tempLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		tempLogger.Error().Err(err).Str("path", output).Msg("Failed to open log file, falling back to stderr")
		return os.Stderr, noop
	}

	return file, file.Close
}

// isTerminal checks if the provided file descriptor refers to a character device (terminal).
func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}

	return (stat.Mode() & os.ModeCharDevice) != 0
}
