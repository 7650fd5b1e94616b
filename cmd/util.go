// Package cmd provides CLI commands for the prepd tool.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/prepd/config"
	"github.com/otherjamesbrown/prepd/pkg/logging"
)

// Global flag state shared across commands; bound by the root command.
var (
	// ConfigPath is the --config flag value.
	ConfigPath string

	// OutputFormat is the --output flag value (table, json, yaml).
	OutputFormat string

	// Debug forces debug-level logging.
	Debug bool
)

// loadConfig loads the configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(ConfigPath)
	if err != nil {
		return nil, err
	}
	if Debug {
		cfg.Service.LogLevel = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger from service configuration.
func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:       logging.Level(cfg.Service.LogLevel),
		ServiceName: "prepd",
		Environment: cfg.Service.Environment,
		JSONFormat:  cfg.Service.JSONLogs,
	})
}

// printOutput renders v as JSON or YAML per the --output flag. It returns
// false when the format is "table" (or empty) and the caller should render
// a human-readable table instead.
func printOutput(w io.Writer, v interface{}) (bool, error) {
	switch OutputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		return true, yaml.NewEncoder(w).Encode(v)
	case "", "table":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q", OutputFormat)
	}
}
