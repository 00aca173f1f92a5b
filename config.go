package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the ambient, non-CLI settings for kbdd. Device identities
// always come from argv (spec §6); everything else here is loadable from
// an optional YAML file so an installation can relocate the keys
// directory, the MACROD socket, or relax the error budget without a
// rebuild.
type Config struct {
	KeysDir          string        `yaml:"keys_dir"`
	SocketPath       string        `yaml:"socket_path"`
	VirtualKeyboard  string        `yaml:"virtual_keyboard_name"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	RecvTimeout      time.Duration `yaml:"recv_timeout"`
	MaxErrors        int           `yaml:"max_errors"`
	HotplugPermCap   time.Duration `yaml:"hotplug_perm_cap"`
	HotplugPermSleep time.Duration `yaml:"hotplug_perm_sleep"`
}

// DefaultConfig returns the configuration used when no config file is
// present, matching the constants named throughout spec.md.
func DefaultConfig() *Config {
	return &Config{
		KeysDir:          "/var/lib/kbdd/passthrough_keys",
		SocketPath:       "/var/lib/kbdd/kbd.sock",
		VirtualKeyboard:  "kbdd",
		PollTimeout:      64 * time.Millisecond,
		RecvTimeout:      1 * time.Second,
		MaxErrors:        30,
		HotplugPermCap:   5 * time.Second,
		HotplugPermSleep: 100 * time.Microsecond,
	}
}

// LoadConfig reads path if it exists, overlaying values onto the
// defaults; a missing file is not an error (spec §6/§7: only a missing
// *required* setting is fatal, and nothing here is required).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.KeysDir == "" || cfg.SocketPath == "" {
		return nil, fmt.Errorf("config %s: keys_dir and socket_path must not be empty", path)
	}

	return cfg, nil
}

// WriteDefaultConfig writes a commented starter config to path, skipping
// if one already exists. Mirrors the teacher's initConfig() first-run
// convenience without any embedded match-file schema (KBDD has none).
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	d := DefaultConfig()
	out, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write default config %s: %w", path, err)
	}
	return nil
}
