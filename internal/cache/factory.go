package cache

import (
	"context"
	"fmt"
	"time"
)

// New builds a Cache from the configuration. The context bounds
// initialization of the distributed backend; local backends ignore it.
func New(ctx context.Context, cfg *Config) (Cache, error) {
	log := logger().With().Str("component", "cache_factory").Logger()
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		c   Cache
		err error
	)
	switch cfg.Mode {
	case ModeSingle:
		c, err = newRistrettoCache(cfg.Ristretto)
	case ModeHA:
		c, err = newOlricCache(ctx, &cfg.Olric)
	case ModeDisabled:
		c = newNoopCache()
	default:
		return nil, fmt.Errorf("cache: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		log.Error().Err(err).Str("mode", string(cfg.Mode)).Msg("cache backend initialization failed")
		return nil, err
	}

	log.Info().
		Str("mode", string(cfg.Mode)).
		Dur("init_time", time.Since(start)).
		Msg("cache backend ready")
	return c, nil
}
