package config

import (
	"bytes"
	"os"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// expandEnvTemplates renders {{ .Env.VAR }}-style placeholders in backend
// commands/args/env and plugin executables against the proxy's own process
// environment, so a config author can parameterize a backend without
// shelling out to envsubst. Values with no template markers pass through
// unchanged and un-parseable templates are left as-is rather than failing
// config load outright (a typo here should surface at backend-start time,
// not blow up validate/serve for unrelated backends).
func expandEnvTemplates(cfg *Config) {
	envMap := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				envMap[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	data := map[string]any{"Env": envMap}

	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		b.Command = render(b.Command, data)
		for j, a := range b.Args {
			b.Args[j] = render(a, data)
		}
		for k, v := range b.Env {
			b.Env[k] = render(v, data)
		}
		b.URL = render(b.URL, data)
	}
	for i := range cfg.Plugins.Plugins {
		cfg.Plugins.Plugins[i].Executable = render(cfg.Plugins.Plugins[i].Executable, data)
	}
	cfg.Plugins.NodeExecutable = render(cfg.Plugins.NodeExecutable, data)
}

func render(s string, data map[string]any) string {
	if s == "" {
		return s
	}
	tmpl, err := template.New("cfg").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(s)
	if err != nil {
		return s
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return s
	}
	return buf.String()
}
