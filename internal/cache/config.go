package cache

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects the cache backend.
type Mode string

const (
	// ModeSingle runs a local Ristretto cache. The default for
	// single-instance deployments.
	ModeSingle Mode = "single"

	// ModeHA runs a distributed Olric cache so several dispatcher
	// instances share refreshed tokens and usage snapshots.
	ModeHA Mode = "ha"

	// ModeDisabled disables caching. Every read misses.
	ModeDisabled Mode = "disabled"
)

// Config selects and configures the cache backend.
type Config struct {
	Mode      Mode            `yaml:"mode" toml:"mode"`
	Ristretto RistrettoConfig `yaml:"ristretto" toml:"ristretto"`
	Olric     OlricConfig     `yaml:"olric" toml:"olric"`
}

// RistrettoConfig configures the local Ristretto backend.
type RistrettoConfig struct {
	// NumCounters is the number of 4-bit access counters. Use about
	// 10x the expected number of live keys.
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`

	// MaxCost caps the total byte size of cached values.
	MaxCost int64 `yaml:"max_cost" toml:"max_cost"`

	// BufferItems sizes the admission buffer. 64 is a good default.
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// OlricConfig configures the distributed Olric backend.
// Embedded mode starts a node inside this process; client mode
// connects to an existing cluster at Addresses.
type OlricConfig struct {
	DMapName          string        `yaml:"dmap_name" toml:"dmap_name"`
	Embedded          bool          `yaml:"embedded" toml:"embedded"`
	BindAddr          string        `yaml:"bind_addr" toml:"bind_addr"`
	Environment       string        `yaml:"environment" toml:"environment"`
	Peers             []string      `yaml:"peers" toml:"peers"`
	Addresses         []string      `yaml:"addresses" toml:"addresses"`
	ReplicaCount      int           `yaml:"replica_count" toml:"replica_count"`
	ReadQuorum        int           `yaml:"read_quorum" toml:"read_quorum"`
	WriteQuorum       int           `yaml:"write_quorum" toml:"write_quorum"`
	MemberCountQuorum int32         `yaml:"member_count_quorum" toml:"member_count_quorum"`
	LeaveTimeout      time.Duration `yaml:"leave_timeout" toml:"leave_timeout"`
}

// Validate checks the configuration before a backend is created.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSingle:
		if c.Ristretto.NumCounters <= 0 {
			return errors.New("cache: ristretto.num_counters must be positive")
		}
		if c.Ristretto.MaxCost <= 0 {
			return errors.New("cache: ristretto.max_cost must be positive")
		}
	case ModeHA:
		if c.Olric.Embedded && c.Olric.BindAddr == "" {
			return errors.New("cache: olric.bind_addr required when embedded")
		}
		if !c.Olric.Embedded && len(c.Olric.Addresses) == 0 {
			return errors.New("cache: olric.addresses required when not embedded")
		}
	case ModeDisabled:
	case "":
		return errors.New("cache: mode is required")
	default:
		return fmt.Errorf("cache: unknown mode %q", c.Mode)
	}
	return nil
}

// DefaultRistrettoConfig returns defaults sized for token and usage
// entries: room for roughly 100K keys and 100 MB of values.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 1_000_000,
		MaxCost:     100 << 20,
		BufferItems: 64,
	}
}

// DefaultOlricConfig returns defaults for the distributed backend.
func DefaultOlricConfig() OlricConfig {
	return OlricConfig{
		DMapName: "better-ccflare",
	}
}
