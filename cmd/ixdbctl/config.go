package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DB      string `yaml:"db"`
	Backend string `yaml:"backend"`
	Verbose bool   `yaml:"verbose"`
	NoColor bool   `yaml:"no_color"`
}

type settings struct {
	DB      string
	Backend string
	Verbose bool
	NoColor bool
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// resolveSettings starts from the config file, if any, and lets command
// line flags override it.
func resolveSettings(opt globalOptions) (settings, error) {
	var s settings
	if opt.ConfigFile != "" {
		cfg, err := loadConfig(opt.ConfigFile)
		if err != nil {
			return s, err
		}
		s = settings(cfg)
	}
	if opt.DB != "" {
		s.DB = opt.DB
	}
	if opt.Backend != "" {
		s.Backend = opt.Backend
	}
	switch s.Backend {
	case "":
		s.Backend = backendBolt
	case backendBolt, backendSQLite:
	default:
		return s, fmt.Errorf("unknown backend %q, wanted %s or %s", s.Backend, backendBolt, backendSQLite)
	}
	s.Verbose = s.Verbose || opt.Verbose
	s.NoColor = s.NoColor || opt.NoColor
	return s, nil
}
