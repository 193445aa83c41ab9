package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, expands ${VAR}/$VAR environment
// references, and decodes it over Default(). Grounded on
// haasonsaas-nexus/internal/config/loader.go's os.ExpandEnv-before-parse
// idiom; the $include multi-file composition that loader also supports
// is not needed here and is not replicated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
