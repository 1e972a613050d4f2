package logging

import (
	"log/slog"
	"strings"
)

// Config controls how Setup wires up the default logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the append-only JSON log file path.
	FilePath string
	// MaxSizeMB is the rotation threshold in megabytes.
	MaxSizeMB int
	// MaxFiles is the number of rotated files retained.
	MaxFiles int
}

// DefaultConfig returns sensible defaults given the resolved log file path.
func DefaultConfig(logFile string) Config {
	return Config{
		Level:     "info",
		FilePath:  logFile,
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// Setup initializes file-only structured logging and returns the logger plus
// a cleanup function. The MCP stdio transport uses stdin/stdout for the
// JSON-RPC stream, so the logger writes only to the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	logger := slog.New(handler)

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	return logger, cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
