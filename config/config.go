// Package config loads the database configuration from a YAML file and
// applies defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakuradb/sakura/pkg/logger"
	"github.com/sakuradb/sakura/pkg/telemetry"
)

// StorageConfig controls the disk and buffer-pool layer.
type StorageConfig struct {
	// DataDir is the directory holding table, index and log files.
	DataDir string `yaml:"data_dir"`
	// PoolSize is the number of buffer-pool frames.
	PoolSize int `yaml:"pool_size"`
	// FlushInterval is how often the background flusher sweeps dirty pages.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// FlushMaxPerSecond rate-limits background flush sweeps.
	FlushMaxPerSecond int `yaml:"flush_max_per_second"`
}

// UnmarshalYAML decodes the storage section, accepting flush_interval as
// a duration string like "5s". Fields absent from the document keep their
// current values.
func (s *StorageConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		DataDir           string `yaml:"data_dir"`
		PoolSize          int    `yaml:"pool_size"`
		FlushInterval     string `yaml:"flush_interval"`
		FlushMaxPerSecond int    `yaml:"flush_max_per_second"`
	}{
		DataDir:           s.DataDir,
		PoolSize:          s.PoolSize,
		FlushInterval:     s.FlushInterval.String(),
		FlushMaxPerSecond: s.FlushMaxPerSecond,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	interval, err := time.ParseDuration(raw.FlushInterval)
	if err != nil {
		return fmt.Errorf("invalid flush_interval %q: %w", raw.FlushInterval, err)
	}
	s.DataDir = raw.DataDir
	s.PoolSize = raw.PoolSize
	s.FlushInterval = interval
	s.FlushMaxPerSecond = raw.FlushMaxPerSecond
	return nil
}

// Config is the root configuration of one database instance.
type Config struct {
	Logging   logger.Config    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Storage   StorageConfig    `yaml:"storage"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Logging: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled:        false,
			ServiceName:    "sakuradb",
			PrometheusPort: 9464,
		},
		Storage: StorageConfig{
			DataDir:           "data",
			PoolSize:          256,
			FlushInterval:     5 * time.Second,
			FlushMaxPerSecond: 4,
		},
	}
}

// Load reads path and overlays it on the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Storage.PoolSize <= 0 {
		cfg.Storage.PoolSize = Default().Storage.PoolSize
	}
	if cfg.Storage.FlushInterval <= 0 {
		cfg.Storage.FlushInterval = Default().Storage.FlushInterval
	}
	return cfg, nil
}
