package cache

import "errors"

// Sentinel errors returned by cache backends. Match with errors.Is.
var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("cache: key not found")

	// ErrClosed is returned for operations on a closed cache.
	ErrClosed = errors.New("cache: cache is closed")

	// ErrSerializationFailed wraps encode or decode failures of cached
	// values. Callers that store structured data wrap their own errors
	// with this sentinel so misses and corruption stay distinguishable.
	ErrSerializationFailed = errors.New("cache: serialization failed")
)
