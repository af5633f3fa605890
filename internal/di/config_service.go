package di

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"

	"github.com/tombii/better-ccflare/internal/config"
)

// ConfigService wraps the loaded configuration with hot-reload support.
// Reads go through an atomic.Pointer so in-flight requests keep the
// config they started with while new requests see the reloaded one.
type ConfigService struct {
	config  atomic.Pointer[config.Config]
	watcher *config.Watcher
	path    string
}

var _ config.RuntimeConfig = (*ConfigService)(nil)

// Get returns the current configuration via atomic load.
func (c *ConfigService) Get() *config.Config {
	return c.config.Load()
}

// Path returns the config file path the service was loaded from.
func (c *ConfigService) Path() string {
	return c.path
}

// StartWatching begins watching the config file and swaps the config
// atomically on each successful reload. Call after the container is
// built; cancel the context to stop watching.
func (c *ConfigService) StartWatching(ctx context.Context) {
	if c.watcher == nil {
		return
	}

	c.watcher.OnReload(func(newCfg *config.Config) error {
		c.config.Store(newCfg)
		log.Info().Str("path", c.path).Msg("config hot-reloaded")
		return nil
	})

	go func() {
		if err := c.watcher.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("config watcher error")
		}
	}()

	log.Info().Str("path", c.path).Msg("config file watcher started")
}

// Shutdown implements do.Shutdowner for graceful watcher cleanup.
func (c *ConfigService) Shutdown() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// NewConfig loads the configuration from the provided path. An empty
// path yields the built-in defaults with hot-reload disabled. The
// watcher is created but not started; call StartWatching afterwards.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	svc := &ConfigService{path: path}

	if path == "" {
		svc.config.Store(config.Default())
		return svc, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	svc.config.Store(cfg)

	// Hot reload is best-effort; a watcher failure only disables it.
	watcher, err := config.NewWatcher(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watcher creation failed, hot-reload disabled")
	} else {
		svc.watcher = watcher
	}

	return svc, nil
}
