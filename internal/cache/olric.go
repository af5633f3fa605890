package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	stdlog "log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olric-data/olric"
	olricconfig "github.com/olric-data/olric/config"
	"github.com/rs/zerolog"
)

// olricCache is the distributed backend. In embedded mode it runs an
// Olric node inside this process; in client mode it connects to an
// existing cluster. Either way, every dispatcher instance pointed at
// the same DMap sees the same refreshed tokens.
type olricCache struct {
	db     *olric.Olric // embedded node, nil in client mode
	client olric.Client
	dmap   olric.DMap
	log    zerolog.Logger
	mu     sync.RWMutex
	closed atomic.Bool
}

var (
	_ Cache         = (*olricCache)(nil)
	_ StatsProvider = (*olricCache)(nil)
	_ Pinger        = (*olricCache)(nil)
)

// parseBindAddr splits an optional host:port bind address. A bare host
// yields port 0, which lets Olric pick its default.
func parseBindAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

func newOlricCache(ctx context.Context, cfg *OlricConfig) (*olricCache, error) {
	log := logger().With().Str("backend", "olric").Logger()

	dmapName := cfg.DMapName
	if dmapName == "" {
		dmapName = "better-ccflare"
	}

	if cfg.Embedded {
		return newEmbeddedOlric(ctx, cfg, dmapName, log)
	}
	return newOlricClusterClient(ctx, cfg, dmapName, log)
}

// newEmbeddedOlric starts an in-process Olric node and binds the DMap.
func newEmbeddedOlric(ctx context.Context, cfg *OlricConfig, dmapName string, log zerolog.Logger) (*olricCache, error) {
	env := cfg.Environment
	if env == "" {
		env = "local"
	}
	oc := olricconfig.New(env)

	host, port := parseBindAddr(cfg.BindAddr)
	oc.BindAddr = host
	if port > 0 {
		oc.BindPort = port
	}
	if len(cfg.Peers) > 0 {
		oc.Peers = cfg.Peers
	}
	if cfg.ReplicaCount > 0 {
		oc.ReplicaCount = cfg.ReplicaCount
	}
	if cfg.ReadQuorum > 0 {
		oc.ReadQuorum = cfg.ReadQuorum
	}
	if cfg.WriteQuorum > 0 {
		oc.WriteQuorum = cfg.WriteQuorum
	}
	if cfg.MemberCountQuorum > 0 {
		oc.MemberCountQuorum = cfg.MemberCountQuorum
	}
	if cfg.LeaveTimeout > 0 {
		oc.LeaveTimeout = cfg.LeaveTimeout
	}

	// Olric's own logging is too chatty for a sidecar node.
	oc.LogOutput = io.Discard
	oc.Logger = stdlog.New(io.Discard, "", 0)

	// Started must be registered before olric.New.
	ready := make(chan struct{})
	oc.Started = func() { close(ready) }

	db, err := olric.New(oc)
	if err != nil {
		return nil, err
	}

	startErr := make(chan error, 1)
	go func() {
		if err := db.Start(); err != nil {
			startErr <- err
		}
	}()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	select {
	case <-ready:
	case err := <-startErr:
		log.Error().Err(err).Msg("olric embedded node failed to start")
		return nil, err
	case <-startupCtx.Done():
		// The node may still come up; give the embedded client a beat.
		log.Warn().Msg("olric embedded node startup timed out, proceeding")
		time.Sleep(100 * time.Millisecond)
	}

	client := db.NewEmbeddedClient()
	dm, err := client.NewDMap(dmapName)
	if err != nil {
		if shutdownErr := db.Shutdown(context.Background()); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("olric shutdown after dmap failure")
		}
		return nil, err
	}

	log.Info().
		Str("mode", "embedded").
		Str("bind_addr", host).
		Int("bind_port", port).
		Str("dmap", dmapName).
		Int("peers", len(cfg.Peers)).
		Msg("olric cache created")

	return &olricCache{db: db, client: client, dmap: dm, log: log}, nil
}

// newOlricClusterClient connects to an external cluster.
func newOlricClusterClient(ctx context.Context, cfg *OlricConfig, dmapName string, log zerolog.Logger) (*olricCache, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("cache: olric addresses required for client mode")
	}

	client, err := olric.NewClusterClient(cfg.Addresses)
	if err != nil {
		log.Error().Err(err).Strs("addresses", cfg.Addresses).Msg("olric cluster connection failed")
		return nil, err
	}

	dm, err := client.NewDMap(dmapName)
	if err != nil {
		if closeErr := client.Close(ctx); closeErr != nil {
			log.Error().Err(closeErr).Msg("olric client close after dmap failure")
		}
		return nil, err
	}

	log.Info().
		Str("mode", "client").
		Strs("addresses", cfg.Addresses).
		Str("dmap", dmapName).
		Msg("olric cache created")

	return &olricCache{client: client, dmap: dm, log: log}, nil
}

// acquire mirrors ristrettoCache.acquire: read lock plus a re-check so
// operations cannot race Close.
func (o *olricCache) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.closed.Load() {
		return nil, ErrClosed
	}
	o.mu.RLock()
	if o.closed.Load() {
		o.mu.RUnlock()
		return nil, ErrClosed
	}
	return o.mu.RUnlock, nil
}

func (o *olricCache) Get(ctx context.Context, key string) ([]byte, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := o.dmap.Get(ctx, key)
	if err != nil {
		if errors.Is(err, olric.ErrKeyNotFound) {
			o.log.Debug().Str("key", key).Bool("hit", false).Msg("cache get")
			return nil, ErrNotFound
		}
		return nil, err
	}
	value, err := resp.Byte()
	if err != nil {
		return nil, err
	}

	o.log.Debug().Str("key", key).Bool("hit", true).Int("size", len(value)).Msg("cache get")
	return bytes.Clone(value), nil
}

func (o *olricCache) Set(ctx context.Context, key string, value []byte) error {
	release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := o.dmap.Put(ctx, key, bytes.Clone(value)); err != nil {
		return err
	}
	o.log.Debug().Str("key", key).Int("size", len(value)).Msg("cache set")
	return nil
}

func (o *olricCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := o.dmap.Put(ctx, key, bytes.Clone(value), olric.EX(ttl)); err != nil {
		return err
	}
	o.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("cache set")
	return nil
}

func (o *olricCache) Delete(ctx context.Context, key string) error {
	release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = o.dmap.Delete(ctx, key)
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		return err
	}
	o.log.Debug().Str("key", key).Msg("cache delete")
	return nil
}

func (o *olricCache) Exists(ctx context.Context, key string) (bool, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	_, err = o.dmap.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (o *olricCache) Close() error {
	if o.closed.Load() {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return nil
	}
	o.closed.Store(true)

	ctx := context.Background()
	if o.dmap != nil {
		if err := o.dmap.Close(ctx); err != nil {
			o.log.Debug().Err(err).Msg("olric dmap close")
		}
	}

	if o.db != nil {
		// Embedded mode owns the node lifecycle.
		if err := o.db.Shutdown(ctx); err != nil {
			o.log.Error().Err(err).Msg("olric embedded shutdown failed")
			return err
		}
		o.log.Info().Msg("olric embedded cache closed")
		return nil
	}

	if o.client != nil {
		if err := o.client.Close(ctx); err != nil {
			o.log.Error().Err(err).Msg("olric client disconnect failed")
			return err
		}
		o.log.Info().Msg("olric cluster cache closed")
	}
	return nil
}

// Stats returns empty statistics. Olric reports per-member stats that
// do not map onto the Stats struct; use the Olric client directly for
// cluster introspection.
func (o *olricCache) Stats() Stats {
	return Stats{}
}

// Ping verifies connectivity with a probe read. A key-not-found reply
// proves the round trip worked.
func (o *olricCache) Ping(ctx context.Context) error {
	release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = o.dmap.Get(ctx, "__ping__")
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		return err
	}
	return nil
}
