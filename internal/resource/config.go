package resource

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config declares pool contents, typically loaded from a yaml file:
//
//	resources:
//	  - label: cpu
//	    capacity: 6
//	    default: 1
type Config struct {
	Resources []EntryConfig `yaml:"resources"`
}

type EntryConfig struct {
	Label    string `yaml:"label"`
	Capacity uint16 `yaml:"capacity"`
	Default  uint16 `yaml:"default"`
}

// LoadConfig reads a pool config from path. A missing file yields an empty
// config; malformed yaml is an error.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Build assembles a pool from the config.
func (c Config) Build() (*Pool, error) {
	pool := NewPool()
	for _, r := range c.Resources {
		if r.Label == "" {
			return nil, fmt.Errorf("resource entry missing label")
		}
		if err := pool.Register(r.Label, r.Capacity, r.Default); err != nil {
			return nil, err
		}
	}
	return pool, nil
}
