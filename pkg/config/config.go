// Package config handles arbor's configuration via environment variables.
//
// Configuration is loaded with LoadFromEnv() and checked with Validate()
// before the store is opened. All values have defaults, so LoadFromEnv()
// can be called with nothing set.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//
//   - ARBOR_DATA_DIR — pristine file + changes directory root.
//   - ARBOR_SYNC_WRITES — force fsync per commit.
//   - ARBOR_LOW_MEMORY — trim the embedded store's memory budget.
//   - ARBOR_COMPRESSION_LEVEL — zstd level used by the codec.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/arbor-vcs/arbor/pkg/codec"
)

// Config holds all arbor configuration loaded from environment variables.
type Config struct {
	// DataDir is the directory the pristine database and the change/tag
	// store are rooted under. Required unless InMemory is set.
	DataDir string

	// InMemory runs the pristine database entirely in RAM, for tests and
	// ephemeral checkouts. Nothing is persisted.
	InMemory bool

	// SyncWrites forces an fsync on every commit, matching the crash model
	// that a committed transaction is never lost at the cost of commit
	// latency.
	SyncWrites bool

	// LowMemory trims the embedded store's memory budget (fewer memtables,
	// no block cache) for deployments where the repository shares a host
	// with other memory-hungry processes.
	LowMemory bool

	// CompressionLevel is the zstd level the codec compresses change and
	// tag artifacts at. 0 falls back to codec.DefaultCompressionLevel;
	// Validate rejects a negative level.
	CompressionLevel int
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.DataDir = getEnv("ARBOR_DATA_DIR", "./arbor-data")
	cfg.InMemory = getEnvBool("ARBOR_IN_MEMORY", false)
	cfg.SyncWrites = getEnvBool("ARBOR_SYNC_WRITES", true)
	cfg.LowMemory = getEnvBool("ARBOR_LOW_MEMORY", false)
	cfg.CompressionLevel = getEnvInt("ARBOR_COMPRESSION_LEVEL", codec.DefaultCompressionLevel)

	return cfg
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if !c.InMemory && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: ARBOR_DATA_DIR must be set unless running in-memory")
	}
	if c.CompressionLevel < 0 {
		return fmt.Errorf("config: invalid compression level %d", c.CompressionLevel)
	}
	return nil
}

// String returns a representation of the Config safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, InMemory: %v, SyncWrites: %v, LowMemory: %v, CompressionLevel: %d}",
		c.DataDir, c.InMemory, c.SyncWrites, c.LowMemory, c.CompressionLevel,
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
