package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// config holds settings that may come from a YAML file. Command line flags
// take precedence over file values.
type config struct {
	Dir              string      `yaml:"dir"`
	BuildConfig      string      `yaml:"build_config"`
	LogLevel         string      `yaml:"log_level"`
	IndexConcurrency int         `yaml:"index_concurrency"`
	MaxFileSize      string      `yaml:"max_file_size"`
	Cache            cacheConfig `yaml:"cache"`
}

type cacheConfig struct {
	// Dir enables the disk cache.
	Dir string `yaml:"dir"`
	// MaxBytes bounds the disk cache, in humanized form ("512MiB").
	MaxBytes string `yaml:"max_bytes"`
	// Entries enables the in-memory cache when Dir is empty.
	Entries int `yaml:"entries"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// parseSize parses a humanized byte count. An empty string is zero.
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
