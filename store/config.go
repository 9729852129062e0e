package store

import (
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/attrmap/internal/shard"
	"github.com/jacentio/attrmap/internal/span"
)

// Config holds configuration for the Store.
type Config struct {
	// MaxAttributeLength is the byte limit of a single stored attribute value.
	// Values of spanned fields are split to fit; other values over the limit are rejected.
	// Default: 1024
	MaxAttributeLength int `yaml:"maxAttributeLength"`

	// MaxBatchSize is the number of items sent per batch put or batch delete.
	// Default: 25, Max: 25
	MaxBatchSize int `yaml:"maxBatchSize"`

	// ConsistentReads forces strongly-consistent reads for every get and select.
	ConsistentReads bool `yaml:"consistentReads"`

	// EncryptionKey is the passphrase for fields spanned with encryption.
	EncryptionKey string `yaml:"encryptionKey"`

	// CacheShards is the number of lock stripes in the entity cache.
	// Default: 16, Max: 256
	CacheShards int `yaml:"cacheShards"`

	// DisableCache turns off the entity cache.
	DisableCache bool `yaml:"disableCache"`

	// DisableProvisioning turns off automatic container creation.
	DisableProvisioning bool `yaml:"disableProvisioning"`

	// Logger receives store events. Default: slog.Default()
	Logger *slog.Logger `yaml:"-"`

	// Formatter converts values to and from strings for fields without their own formatter.
	// Default: DefaultFormatter
	Formatter Formatter `yaml:"-"`

	// Indexer receives indexed fields after every successful put. Optional.
	Indexer Indexer `yaml:"-"`
}

const (
	defaultMaxAttributeLength = 1024
	defaultMaxBatchSize       = 25
	defaultCacheShards        = 16
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttributeLength: defaultMaxAttributeLength,
		MaxBatchSize:       defaultMaxBatchSize,
		CacheShards:        defaultCacheShards,
	}
}

// LoadConfig reads a YAML configuration on top of DefaultConfig. Unknown keys are an error.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("%w: decode config: %v", ErrConfiguration, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate fills defaults and ensures config values are within acceptable bounds.
func (c *Config) validate() error {
	if c.MaxAttributeLength == 0 {
		c.MaxAttributeLength = defaultMaxAttributeLength
	}
	if c.MaxAttributeLength < span.MinLength {
		return fmt.Errorf("%w: max attribute length %d is below %d", ErrConfiguration, c.MaxAttributeLength, span.MinLength)
	}
	if c.MaxBatchSize < 1 || c.MaxBatchSize > defaultMaxBatchSize {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	c.defaults()
	return nil
}

// defaults fills the settings every layer needs, leaving size limits alone.
func (c *Config) defaults() {
	if c.CacheShards == 0 {
		c.CacheShards = defaultCacheShards
	}
	c.CacheShards = shard.Clamp(c.CacheShards)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Formatter == nil {
		c.Formatter = DefaultFormatter{}
	}
}
