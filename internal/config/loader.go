package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expanding ${VAR} references from the
// environment. Unknown keys are rejected; an empty file yields a zero
// config.
func Load(path string) (*DashboardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg DashboardConfig
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadWithDefaults is Load followed by filling every unset field.
func LoadWithDefaults(path string) (*DashboardConfig, error) {
	cfg, err := Load(path)
	if err == nil {
		cfg.applyDefaults()
	}
	return cfg, err
}

// LoadAndValidate is what binaries call: load, default, then check.
func LoadAndValidate(path string) (*DashboardConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, for
// running without a config file.
func Default() *DashboardConfig {
	cfg := &DashboardConfig{Instance: InstanceConfig{ID: "dashboard"}}
	cfg.applyDefaults()
	return cfg
}
