package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of the binary.
type Config struct {
	KeyFile               string        `yaml:"keyfile"`
	Keyring               int           `yaml:"keyring"`
	MapperName            string        `yaml:"mapper_name"`
	Mountpoint            string        `yaml:"mountpoint"`
	AllowedDevicePrefixes []string      `yaml:"allowed_device_prefixes"`
	AllowedKeyDirs        []string      `yaml:"allowed_key_dirs"`
	CommandTimeout        time.Duration `yaml:"command_timeout"`
	MetricsFile           string        `yaml:"metrics_file"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		KeyFile:               DefaultKeyFile,
		MapperName:            DefaultMapperName,
		Mountpoint:            DefaultMountpoint,
		AllowedDevicePrefixes: []string{"/dev/"},
		AllowedKeyDirs:        []string{"/etc", "/lib/cominit", "/usr/lib/cominit"},
		CommandTimeout:        DefaultCommandTimeout,
	}
}

// LoadConfig reads path on top of DefaultConfig. A missing file yields the defaults unless
// mustExist is set. Unknown keys are rejected.
func LoadConfig(path string, mustExist bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file '%s': %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that cannot be caught by the YAML decoder.
func (c *Config) Validate() error {
	if c.KeyFile == "" {
		return fmt.Errorf("keyfile must be set")
	}
	if !filepath.IsAbs(c.Mountpoint) {
		return fmt.Errorf("mountpoint must be an absolute path, got '%s'", c.Mountpoint)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive, got %s", c.CommandTimeout)
	}
	if len(c.AllowedDevicePrefixes) == 0 {
		return fmt.Errorf("allowed_device_prefixes must not be empty")
	}
	for _, p := range append(append([]string{}, c.AllowedDevicePrefixes...), c.AllowedKeyDirs...) {
		if !filepath.IsAbs(p) || strings.Contains(p, "..") {
			return fmt.Errorf("allowed path '%s' must be absolute and free of traversal", p)
		}
	}
	return validateMapperName(c.MapperName)
}
