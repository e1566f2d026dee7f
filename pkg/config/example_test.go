package config_test

import (
	"fmt"
	"log"

	"github.com/robodata/rolloutdb/pkg/config"
)

// ExampleDefaultConfig demonstrates creating a configuration
// with default values.
func ExampleDefaultConfig() {
	cfg := config.DefaultConfig()

	// The configuration comes with sensible defaults
	fmt.Printf("Journal Mode: %s\n", cfg.Storage.JournalMode)
	fmt.Printf("Busy Timeout: %s\n", cfg.Storage.BusyTimeout)
	fmt.Printf("Compression: %s\n", cfg.Export.Compression)

	// Output:
	// Journal Mode: wal
	// Busy Timeout: 5s
	// Compression: snappy
}

// ExampleConfig_Validate shows how to validate a configuration
// before using it.
func ExampleConfig_Validate() {
	cfg := config.DefaultConfig()

	// Modify some values
	cfg.Storage.Path = "data/rollouts.db"
	cfg.Export.BatchSize = 5000

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("Configuration is valid!")

	// Output:
	// Configuration is valid!
}

// ExampleStorageConfig_DSN demonstrates the SQLite connection string
// assembled from the storage section.
func ExampleStorageConfig_DSN() {
	cfg := config.DefaultConfig()
	cfg.Storage.Path = "rollouts.db"

	fmt.Println(cfg.Storage.DSN())

	// Output:
	// rollouts.db?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)
}
