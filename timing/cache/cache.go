// Package cache provides a wait-state model for guest data accesses, built
// on the Akita cache directory.
//
// The model tracks tags only. Guest data always lives in RAM, so the cache
// changes how many cycles an access costs and never what it returns.
package cache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds cache geometry and wait states. Latencies are extra cycles on
// top of the cost the latency table already charges for a transfer.
type Config struct {
	// Size in bytes.
	Size int `json:"size"`
	// Associativity is the number of ways.
	Associativity int `json:"associativity"`
	// BlockSize is the line size in bytes.
	BlockSize int `json:"block_size"`
	// HitLatency in cycles.
	HitLatency uint64 `json:"hit_latency"`
	// MissLatency in cycles, for the line fill.
	MissLatency uint64 `json:"miss_latency"`
	// WritebackLatency in cycles, added when a dirty line is evicted.
	WritebackLatency uint64 `json:"writeback_latency"`
}

// DefaultConfig returns a small unified cache in the style of ARM7 cores
// with an on-chip cache: 4KB, 4-way, 16B lines, a 4-cycle line fill.
func DefaultConfig() Config {
	return Config{
		Size:             4 * 1024,
		Associativity:    4,
		BlockSize:        16,
		HitLatency:       0,
		MissLatency:      4,
		WritebackLatency: 4,
	}
}

// Validate checks that the geometry describes at least one set of
// power-of-two sized lines.
func (c Config) Validate() error {
	if c.BlockSize <= 0 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("block_size must be a power of two, got %d", c.BlockSize)
	}
	if c.Associativity <= 0 {
		return fmt.Errorf("associativity must be > 0")
	}
	if c.Size < c.BlockSize*c.Associativity || c.Size%(c.BlockSize*c.Associativity) != 0 {
		return fmt.Errorf("size must be a multiple of block_size * associativity")
	}
	return nil
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// Cache is a write-back, write-allocate tag directory with LRU replacement.
type Cache struct {
	config    Config
	directory *akitacache.DirectoryImpl
	stats     Statistics
}

// New creates a cache with the given configuration. The configuration must
// be valid.
func New(config Config) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// Access looks up the line holding addr, fills it on a miss, and returns
// the wait states the access costs.
func (c *Cache) Access(addr uint32, write bool) uint64 {
	if write {
		c.stats.Writes++
	} else {
		c.stats.Reads++
	}

	lineAddr := uint64(addr) &^ uint64(c.config.BlockSize-1)

	block := c.directory.Lookup(0, lineAddr)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		if write {
			block.IsDirty = true
		}
		return c.config.HitLatency
	}

	c.stats.Misses++
	latency := c.config.MissLatency

	victim := c.directory.FindVictim(lineAddr)
	if victim.IsValid {
		c.stats.Evictions++
		if victim.IsDirty {
			c.stats.Writebacks++
			latency += c.config.WritebackLatency
		}
	}

	victim.Tag = lineAddr
	victim.IsValid = true
	victim.IsDirty = write
	c.directory.Visit(victim)

	return latency
}

// Invalidate drops the line holding addr without writing it back.
func (c *Cache) Invalidate(addr uint32) {
	lineAddr := uint64(addr) &^ uint64(c.config.BlockSize-1)
	block := c.directory.Lookup(0, lineAddr)
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back every dirty line and invalidates all of them. It
// returns the wait states of the write-backs.
func (c *Cache) Flush() uint64 {
	var latency uint64
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				c.stats.Writebacks++
				latency += c.config.WritebackLatency
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
	return latency
}

// Reset invalidates all lines and clears the statistics.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}
