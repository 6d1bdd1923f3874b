// Package config holds dwcsync settings: defaults, an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvMongoURI names the environment variable holding the store URI.
const EnvMongoURI = "MONGO_URI"

const (
	DefaultTimeout         = 10 * time.Second
	DefaultIdleTimeout     = 10 * time.Second
	DefaultMetadataTimeout = 10 * time.Second
	DefaultBatchSize       = 5000
	DefaultConcurrency     = 10
	DefaultMaxBatchBytes   = 16 * 1024 * 1024
)

// Config holds application settings.
type Config struct {
	Mongo   MongoConfig   `yaml:"mongo"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Sync    SyncConfig    `yaml:"sync"`
	Catalog string        `yaml:"catalog"`
	Ledger  string        `yaml:"ledger"`
	WorkDir string        `yaml:"work_dir"`
	Metrics MetricsConfig `yaml:"metrics"`
	Cron    string        `yaml:"cron"`
}

// MongoConfig names the database and its collections. The URI normally
// comes from the environment.
type MongoConfig struct {
	URI                  string `yaml:"uri"`
	Database             string `yaml:"database"`
	DatasetCollection    string `yaml:"dataset_collection"`
	OccurrenceCollection string `yaml:"occurrence_collection"`
	TaxonCollection      string `yaml:"taxon_collection"`
}

// FetchConfig bounds every HTTP transfer.
type FetchConfig struct {
	// Timeout is the total deadline of an archive download.
	Timeout time.Duration `yaml:"timeout"`
	// IdleTimeout aborts a transfer that receives no data for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// MetadataTimeout is the total deadline of a metadata fetch.
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
}

type SyncConfig struct {
	BatchSize     int `yaml:"batch_size"`
	Concurrency   int `yaml:"concurrency"`
	MaxBatchBytes int `yaml:"max_batch_bytes"`
}

type MetricsConfig struct {
	// Textfile, when set, receives the run metrics in Prometheus text format.
	Textfile string `yaml:"textfile"`
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Mongo: MongoConfig{
			Database:             "dwc2json",
			DatasetCollection:    "ipts",
			OccurrenceCollection: "ocorrencias",
			TaxonCollection:      "taxa",
		},
		Fetch: FetchConfig{
			Timeout:         DefaultTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			MetadataTimeout: DefaultMetadataTimeout,
		},
		Sync: SyncConfig{
			BatchSize:     DefaultBatchSize,
			Concurrency:   DefaultConcurrency,
			MaxBatchBytes: DefaultMaxBatchBytes,
		},
		Catalog: "referencias/occurrences.csv",
		Ledger:  "./dwcsync_ledger.duckdb",
		Cron:    "0 3 * * *",
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv takes the store URI from the environment when it is set.
func (c *Config) ApplyEnv() {
	if uri := os.Getenv(EnvMongoURI); uri != "" {
		c.Mongo.URI = uri
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs error
	if c.Mongo.Database == "" {
		errs = errors.Join(errs, fmt.Errorf("mongo.database is required"))
	}
	if c.Mongo.DatasetCollection == "" || c.Mongo.OccurrenceCollection == "" || c.Mongo.TaxonCollection == "" {
		errs = errors.Join(errs, fmt.Errorf("mongo collections must be named"))
	}
	if c.Fetch.Timeout <= 0 || c.Fetch.IdleTimeout <= 0 || c.Fetch.MetadataTimeout <= 0 {
		errs = errors.Join(errs, fmt.Errorf("fetch timeouts must be positive"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = errors.Join(errs, fmt.Errorf("sync.batch_size must be positive"))
	}
	if c.Sync.Concurrency <= 0 {
		errs = errors.Join(errs, fmt.Errorf("sync.concurrency must be positive"))
	}
	if c.Sync.MaxBatchBytes <= 0 {
		errs = errors.Join(errs, fmt.Errorf("sync.max_batch_bytes must be positive"))
	}
	return errs
}

// RequireMongoURI fails when no store URI is configured.
func (c *Config) RequireMongoURI() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("%s environment variable is required", EnvMongoURI)
	}
	return nil
}
