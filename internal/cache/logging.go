package cache

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex

	// Logger is the package-level logger. It is a no-op until
	// SetLogger is called during startup.
	Logger = zerolog.Nop()
)

// SetLogger installs the package-level logger for cache operations.
// The logger is tagged with component=cache.
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	Logger = l.With().Str("component", "cache").Logger()
}

func logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return Logger
}
