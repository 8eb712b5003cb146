package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fakeai/fakeai/internal/types"
)

// Load reads, parses, and validates a YAML config file. Fields absent from
// the file keep their defaults, so a minimal file overriding one value is
// valid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED,
			"failed to read config file "+path, err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED,
			"failed to parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
