// Config structure and validation. See doc.go for package documentation.
//
// Example usage:
//
//	cfg := config.DefaultConfig()
//	cfg.Storage.Path = "data/rollouts.db"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the single configuration structure for rolloutdb.
type Config struct {
	// Storage settings for the embedded SQLite engine
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Export settings for columnar snapshots
	Export ExportConfig `yaml:"export" json:"export"`

	// Logging output configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// StorageConfig contains the SQLite connection settings.
type StorageConfig struct {
	// Path locates the SQLite database file; created on first open
	Path string `yaml:"path" json:"path"`
	// BusyTimeout bounds lock waits before SQLITE_BUSY surfaces
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
	// JournalMode selects the SQLite journal (wal, delete, truncate, memory)
	JournalMode string `yaml:"journal_mode" json:"journal_mode"`
	// MaxOpenConns caps pooled connections; SQLite supports one writer
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
}

// ExportConfig contains the Parquet snapshot settings.
type ExportConfig struct {
	// Compression selects the Parquet codec (snappy, zstd, gzip, brotli, none)
	Compression string `yaml:"compression" json:"compression"`
	// BatchSize controls rows per buffered record batch
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level sets logging verbosity (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`
	// Encoding selects the output format (json or console)
	Encoding string `yaml:"encoding" json:"encoding"`
	// Development enables colorized human-oriented output
	Development bool `yaml:"development" json:"development"`
	// OutputPaths lists log sinks; defaults to stdout
	OutputPaths []string `yaml:"output_paths" json:"output_paths"`
}

// DefaultConfig creates a Config with sensible defaults. Callers override
// individual fields as needed and then call Validate.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:         "rollouts.db",
			BusyTimeout:  5 * time.Second,
			JournalMode:  "wal",
			MaxOpenConns: 1,
		},
		Export: ExportConfig{
			Compression: "snappy",
			BatchSize:   1000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.BusyTimeout < 0 {
		return fmt.Errorf("storage.busy_timeout cannot be negative")
	}
	switch c.Storage.JournalMode {
	case "wal", "delete", "truncate", "memory":
	default:
		return fmt.Errorf("storage.journal_mode must be one of wal, delete, truncate, memory")
	}
	if c.Storage.MaxOpenConns < 1 {
		return fmt.Errorf("storage.max_open_conns must be at least 1")
	}
	switch c.Export.Compression {
	case "snappy", "zstd", "gzip", "brotli", "none":
	default:
		return fmt.Errorf("export.compression must be one of snappy, zstd, gzip, brotli, none")
	}
	if c.Export.BatchSize <= 0 {
		return fmt.Errorf("export.batch_size must be positive")
	}
	return nil
}

// DSN builds the SQLite connection string. Pragmas use the _pragma=name(value)
// form, the only one the modernc driver executes.
func (s *StorageConfig) DSN() string {
	return fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)",
		filepath.Clean(s.Path), s.JournalMode, s.BusyTimeout.Milliseconds())
}
