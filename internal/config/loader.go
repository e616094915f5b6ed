package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadFile loads and validates a configuration file. Values missing from
// the file keep their defaults; a missing file is an error.
func LoadFile(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("failed to load config from %q: %w", path, err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return Config{}, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

// Load returns the file's configuration when path is set, the defaults
// otherwise.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", path, err)
	}
	return LoadFile(path)
}
