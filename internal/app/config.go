// Package app wires every internal package into one running proxy process:
// configuration, the backend supervisor tree, the plugin chain, the trace
// store, and the client-facing MCP server. Grounded on giantswarm-muster's
// internal/app (Config/Application split) and internal/aggregator (the MCP
// server transport wiring).
package app

import "github.com/stacklok/mcprelay/internal/logging"

// Config is the CLI-facing application configuration: where to find the
// mcprelay config file and how verbosely to log, as distinct from the
// loaded config.Config this produces (internal/config.Config).
type Config struct {
	// ConfigPath points at the mcprelay YAML config file. Empty loads no
	// file: config.Load then uses the built-in defaults plus MCPRELAY_
	// environment overrides only.
	ConfigPath string

	// Debug raises the log level to debug.
	Debug bool
}

// NewConfig builds an app.Config from CLI flag values.
func NewConfig(configPath string, debug bool) *Config {
	return &Config{ConfigPath: configPath, Debug: debug}
}

func (c *Config) logLevel() logging.Level {
	if c.Debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}
