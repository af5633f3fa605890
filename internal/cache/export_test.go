package cache

// Bridges for the external cache_test package.

var (
	NewRistrettoCacheForTest = newRistrettoCache
	NewNoopCacheForTest      = newNoopCache
	NewOlricCacheForTest     = newOlricCache
	ParseBindAddrForTest     = parseBindAddr
)

// RistrettoCacheT exposes the concrete type so tests can flush writes.
type RistrettoCacheT = ristrettoCache

// Wait flushes buffered ristretto writes for deterministic assertions.
func (r *ristrettoCache) Wait() {
	r.wait()
}
