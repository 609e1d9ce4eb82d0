// Package logging builds the process logger: text records on stdout, teed to
// an append-only file when one is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Logger owns the optional log file so callers can close it on shutdown.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New returns a logger writing to stdout and, when path is set, to path.
func New(path, level string) (*Logger, error) {
	return newWithStdout(os.Stdout, path, level)
}

func newWithStdout(stdout io.Writer, path, level string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{stdout}
	var file *os.File
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
	}

	mw := io.MultiWriter(writers...)
	handler := slog.NewTextHandler(mw, &slog.HandlerOptions{Level: lvl})

	// keep stray stdlib log output (net/http server errors) in the same stream
	log.SetOutput(mw)

	return &Logger{Logger: slog.New(handler), file: file}, nil
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Writer exposes the combined stream for access logs.
func (l *Logger) Writer() io.Writer {
	return log.Writer()
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// Discard is a logger for tests and optional collaborators.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
