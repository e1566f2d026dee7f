// Package config provides unified configuration management for rolloutdb.
//
// A single Config structure covers every tunable the CLI and the store
// packages consume, organized into Storage, Export and Logging sections.
//
// # Key Features
//
// - DefaultConfig: production-ready defaults for every section
// - Environment variable substitution with ${VAR_NAME} syntax
// - Validation of ranges and enumerated values before use
//
// # Usage
//
// ## Basic Configuration Loading
//
//	cfg := config.DefaultConfig()
//	if err := config.Load("rolloutdb.yaml", cfg); err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Variable Substitution
//
// YAML values may reference environment variables:
//
//	storage:
//	  path: ${ROLLOUTDB_PATH}
//
// The reference is replaced with the variable's value at load time; unset
// variables resolve to the empty string and are caught by Validate.
package config
