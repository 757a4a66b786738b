package debug

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Env var pointing at the debug log file. Logging is disabled when unset.
const logFileEnv = "QUILLSYNC_DEBUG_LOG"

var (
	once   sync.Once
	logger *slog.Logger
)

// GetLogger returns a singleton slog logger instance. It writes to the
// file named by QUILLSYNC_DEBUG_LOG, or discards everything when the
// variable is unset.
func GetLogger() *slog.Logger {
	once.Do(func() {
		path := os.Getenv(logFileEnv)
		if path == "" {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		}))
	})
	return logger
}
