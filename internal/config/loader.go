package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from every MCPRELAY_-prefixed environment variable
// layered on top of the file, and the remainder lower-cased; a "." in the
// remainder separates nested keys, e.g. MCPRELAY_LISTEN.PORT=9100 ->
// listen.port. Underscores are kept as they are.
const EnvPrefix = "MCPRELAY_"

// Load reads configPath (if non-empty) over the built-in defaults, then
// layers env var overrides, matching spec §6: "a base config file describes
// backends, plugin directory and executable, concurrency limits, default
// timeout, and per-backend phase->plugin lists."
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading built-in defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return key, value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandEnvTemplates(cfg)

	return cfg, nil
}
