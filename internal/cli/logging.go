package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/imedwei/mongo-backup/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging builds the logger for one run. Logs go to stderr unless a log
// file is configured, in which case the file is rotated by size.
func setupLogging(cfg *config.Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var (
		output io.Writer = stderr
		closer io.Closer = nopCloser{}
	)

	if cfg.Log.Output != "" {
		dir := filepath.Dir(cfg.Log.Output)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.Output,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		output, closer = rotating, rotating
	}

	handler := slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, closer, nil
}
