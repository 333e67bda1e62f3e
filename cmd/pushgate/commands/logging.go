package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MEKXH/pushgate/internal/config"
)

var (
	loggerMu sync.Mutex
	logFile  *os.File
)

// configureLogger installs the default slog logger for the process.
func configureLogger(cfg *config.Config, overrideLevel string) error {
	level, err := parseLogLevel(cfg.Log.Level, overrideLevel)
	if err != nil {
		return err
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()

	writer, err := logWriter(strings.TrimSpace(cfg.Log.File))
	if err != nil {
		return err
	}
	handler, err := newLogHandler(cfg.Log.Format, writer, level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler).With("pid", os.Getpid()))
	return nil
}

// logWriter returns stderr or the configured log file, reusing the open file
// when the path is unchanged. Callers hold loggerMu.
func logWriter(path string) (io.Writer, error) {
	if logFile != nil && logFile.Name() == path {
		return logFile, nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if path == "" {
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logFile = f
	return f, nil
}

func newLogHandler(format string, w io.Writer, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

func parseLogLevel(configLevel, override string) (slog.Level, error) {
	level := strings.TrimSpace(configLevel)
	if strings.TrimSpace(override) != "" {
		level = override
	}
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", level)
	}
}
