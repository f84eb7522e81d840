package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the optional qmem configuration file
// (~/.config/qmem/config.yaml). Flags always win over it.
type Config struct {
	OutDir     string `yaml:"out_dir"`
	Checkpoint string `yaml:"checkpoint"`
	Features   string `yaml:"features"`
	// Invert is the default picture polarity for `qmem image`.
	Invert    string `yaml:"invert"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "qmem", "config.yaml")
}

// LoadConfig reads path, or the default location when path is empty. A
// missing default file yields a zero Config; a missing explicit file or a
// file that does not parse is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// pick returns flag when the user set it and fallback otherwise.
func pick(flag string, isSet bool, fallback string) string {
	if isSet || fallback == "" {
		return flag
	}
	return fallback
}
