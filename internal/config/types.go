// Package config loads and validates the mcprelay configuration file: backend
// descriptors, the plugin layer's recognized options (spec §6), and the
// proxy's own listen settings.
package config

import "time"

// TransportKind identifies how a backend descriptor is reached.
type TransportKind string

const (
	TransportStdio     TransportKind = "stdio"
	TransportSSE       TransportKind = "sse"
	TransportWebSocket TransportKind = "websocket"
)

// RestartPolicy bounds a backend's automatic restart behavior (spec §4.2).
type RestartPolicy struct {
	MaxRestarts  int           `koanf:"maxRestarts"`
	InitialDelay time.Duration `koanf:"initialDelay"`
	MaxDelay     time.Duration `koanf:"maxDelay"`
}

// HealthCheck configures a backend's liveness poll (spec §4.2).
type HealthCheck struct {
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold int           `koanf:"failureThreshold"`
}

// Backend is one entry of the spec §3 "Backend descriptor".
type Backend struct {
	Name    string            `koanf:"name"`
	Enabled bool              `koanf:"enabled"`
	Transport TransportKind   `koanf:"transport"`

	// stdio
	Command string            `koanf:"command"`
	Args    []string          `koanf:"args"`
	Env     map[string]string `koanf:"env"`

	// sse / websocket
	URL     string            `koanf:"url"`
	Headers map[string]string `koanf:"headers"`

	InitializationDelay time.Duration `koanf:"initializationDelay"`
	Restart             RestartPolicy `koanf:"restart"`
	Health              *HealthCheck  `koanf:"health"`
}

// PluginPhase identifies when a plugin runs in a request's lifecycle.
type PluginPhase string

const (
	PhaseRequest  PluginPhase = "request"
	PhaseResponse PluginPhase = "response"
)

// Plugin is the spec §3 "Plugin descriptor".
type Plugin struct {
	Name       string        `koanf:"name"`
	Executable string        `koanf:"executable"`
	Phase      PluginPhase   `koanf:"phase"`
	Backend    string        `koanf:"backend"` // empty == global binding
	Order      int           `koanf:"order"`
	Enabled    bool          `koanf:"enabled"`
	Timeout    time.Duration `koanf:"timeoutMs"`
}

// PluginLayer carries the recognized plugin-layer options of spec §6.
type PluginLayer struct {
	PluginDir               string        `koanf:"pluginDir"`
	NodeExecutable          string        `koanf:"nodeExecutable"`
	MaxConcurrentExecutions int           `koanf:"maxConcurrentExecutions"`
	PoolSizePerPlugin       int           `koanf:"poolSizePerPlugin"`
	DefaultTimeout          time.Duration `koanf:"defaultTimeoutMs"`
	Plugins                 []Plugin      `koanf:"plugins"`
}

// Listen configures the client-facing transport (spec §6, stdio by default).
type Listen struct {
	Transport TransportKind `koanf:"transport"`
	Host      string        `koanf:"host"`
	Port      int           `koanf:"port"`
}

// Trace configures the plugin trace retention store (SPEC_FULL §3).
type Trace struct {
	Dir             string        `koanf:"dir"`
	RetentionWindow time.Duration `koanf:"retentionWindow"`
}

// Config is the top-level mcprelay configuration.
type Config struct {
	Listen              Listen        `koanf:"listen"`
	Backends            []Backend     `koanf:"backends"`
	Plugins             PluginLayer   `koanf:"plugins"`
	DefaultCallTimeout  time.Duration `koanf:"defaultCallTimeoutMs"`
	PerBackendInFlight  int           `koanf:"perBackendInFlightCap"`
	Trace               Trace         `koanf:"trace"`
}

// Defaults returns a Config populated with the same defaults the YAML/env
// loader layers on top of, so callers that construct a Config in tests or
// in-process never need to repeat these literals.
func Defaults() *Config {
	return &Config{
		Listen: Listen{Transport: TransportStdio, Host: "127.0.0.1", Port: 8765},
		Plugins: PluginLayer{
			PluginDir:               "./plugins",
			MaxConcurrentExecutions: 8,
			PoolSizePerPlugin:       2,
			DefaultTimeout:          5 * time.Second,
		},
		DefaultCallTimeout: 30 * time.Second,
		PerBackendInFlight: 64,
		Trace: Trace{
			Dir:             "./data/trace",
			RetentionWindow: 24 * time.Hour,
		},
	}
}
