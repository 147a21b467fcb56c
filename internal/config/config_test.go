package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, yamlBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcprelay.yaml")
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsThenFile(t *testing.T) {
	path := writeTempConfig(t, `
backends:
  - name: a
    transport: stdio
    command: /usr/bin/true
plugins:
  poolSizePerPlugin: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Host != "127.0.0.1" {
		t.Errorf("expected default host to survive, got %q", cfg.Listen.Host)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0].Name != "a" {
		t.Fatalf("expected one backend named a, got %+v", cfg.Backends)
	}
	if cfg.Plugins.PoolSizePerPlugin != 4 {
		t.Errorf("expected file override to take effect, got %d", cfg.Plugins.PoolSizePerPlugin)
	}
	if cfg.Plugins.MaxConcurrentExecutions != 8 {
		t.Errorf("expected default maxConcurrentExecutions to survive, got %d", cfg.Plugins.MaxConcurrentExecutions)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `
listen:
  port: 9000
`)
	t.Setenv("MCPRELAY_LISTEN.PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 9100 {
		t.Errorf("expected env override to win, got %d", cfg.Listen.Port)
	}
}

func TestValidateRejectsDuplicateBackendNames(t *testing.T) {
	cfg := Defaults()
	cfg.Backends = []Backend{
		{Name: "a", Transport: TransportStdio, Command: "/bin/true"},
		{Name: "a", Transport: TransportStdio, Command: "/bin/true"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for duplicate backend names")
	}
}

func TestValidateRejectsStdioWithoutCommand(t *testing.T) {
	cfg := Defaults()
	cfg.Backends = []Backend{{Name: "a", Transport: TransportStdio}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestValidateRejectsPluginOrderCollision(t *testing.T) {
	cfg := Defaults()
	cfg.Backends = []Backend{{Name: "a", Transport: TransportStdio, Command: "/bin/true"}}
	cfg.Plugins.Plugins = []Plugin{
		{Name: "p1", Phase: PhaseRequest, Order: 1, Enabled: true, Executable: "/bin/p1"},
		{Name: "p2", Phase: PhaseRequest, Order: 1, Enabled: true, Executable: "/bin/p2"},
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for colliding order keys")
	}
}

func TestValidateAcceptsDistinctOrderPerBackendPhase(t *testing.T) {
	cfg := Defaults()
	cfg.Backends = []Backend{
		{Name: "a", Transport: TransportStdio, Command: "/bin/true"},
		{Name: "b", Transport: TransportStdio, Command: "/bin/true"},
	}
	cfg.Plugins.Plugins = []Plugin{
		{Name: "p1", Backend: "a", Phase: PhaseRequest, Order: 1, Enabled: true, Executable: "/bin/p1"},
		{Name: "p2", Backend: "b", Phase: PhaseRequest, Order: 1, Enabled: true, Executable: "/bin/p2"},
		{Name: "p3", Backend: "a", Phase: PhaseResponse, Order: 1, Enabled: true, Executable: "/bin/p3"},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected distinct (backend,phase) order keys to be valid: %v", err)
	}
}

func TestExpandEnvTemplatesRendersBackendCommand(t *testing.T) {
	t.Setenv("MCPRELAY_TEST_BIN", "/opt/custom/bin")
	cfg := Defaults()
	cfg.Backends = []Backend{{
		Name:    "a",
		Command: `{{ .Env.MCPRELAY_TEST_BIN }}/server`,
	}}
	expandEnvTemplates(cfg)
	if want := "/opt/custom/bin/server"; cfg.Backends[0].Command != want {
		t.Errorf("expected templated command %q, got %q", want, cfg.Backends[0].Command)
	}
}

func TestDefaultsTimeouts(t *testing.T) {
	cfg := Defaults()
	if cfg.DefaultCallTimeout != 30*time.Second {
		t.Errorf("expected default call timeout of 30s, got %v", cfg.DefaultCallTimeout)
	}
}
