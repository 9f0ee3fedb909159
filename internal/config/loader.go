// Package config loads the YAML configuration of the nyxstore binaries.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadServerConfig overlays the file at path on DefaultServerConfig. An empty
// path yields the defaults.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

// LoadPDConfig overlays the file at path on DefaultPDConfig.
func LoadPDConfig(path string) (*PDConfig, error) {
	cfg := DefaultPDConfig()
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pd config: %w", err)
	}
	return &cfg, nil
}

func load(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
