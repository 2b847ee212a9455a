package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration file toolmeshd accepts as an
// alternative to repeating --remote flags.
type FileConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one remote tool source to register: either an HTTP
// endpoint (url) or a subprocess spoken to over stdio (command).
type SourceConfig struct {
	ID      string            `yaml:"id"`
	URL     string            `yaml:"url"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

func (c *FileConfig) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "simple"
	}
}

func (c *FileConfig) validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if (s.URL == "") == (s.Command == "") {
			return fmt.Errorf("sources[%d]: exactly one of url or command is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sources[%d]: duplicate source id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// LoadConfig reads, parses, defaults, and validates a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}
