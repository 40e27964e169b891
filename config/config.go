// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads and saves the channel-level settings dshotctl and
// monitor run against: DShot speed, the motor's pole-pair count, the
// Pulse/Capture engines' reference clock, and the wiring for whichever
// hal backend is selected.
package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level on-disk configuration.
type Config struct {
	path string

	DShot   DShotConfig   `yaml:"dshot"`
	Serial  SerialConfig  `yaml:"serial"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// DShotConfig mirrors dshot.Config's tunables plus the backend selection
// and pin wiring a concrete hal.Hardware needs.
type DShotConfig struct {
	SpeedKbps        uint32 `yaml:"speed_kbps"`
	Bidirectional    bool   `yaml:"bidirectional"`
	PolePairs        uint32 `yaml:"motor_pole_pairs"`
	TickHz           uint32 `yaml:"tick_hz"`
	ReplyDelayTicks  uint32 `yaml:"reply_delay_ticks"`
	ReplyWindowTicks uint32 `yaml:"reply_window_ticks"`
	CaptureSize      int    `yaml:"capture_size"`

	// Backend selects the hal.Hardware implementation: "loopback",
	// "bcm283x" or "gpiocdev".
	Backend string `yaml:"backend"`
	Pin     uint32 `yaml:"pin"`
	PinName string `yaml:"pin_name"` // used by the gpiocdev backend
}

// SerialConfig configures the KISS/BLHeli32 telemetry UART (variant a).
type SerialConfig struct {
	Enabled  bool   `yaml:"enabled"`
	PortPath string `yaml:"port_path"`
	Raw      bool   `yaml:"raw"` // use the termios2 RawPort backend
}

// MonitorConfig configures the HTTP/WebSocket telemetry server.
type MonitorConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration dshotctl's -demo mode runs against:
// bidirectional DShot600 over a software Loopback backend.
func Default() *Config {
	return &Config{
		DShot: DShotConfig{
			SpeedKbps:        600,
			Bidirectional:    true,
			PolePairs:        14,
			TickHz:           168_000_000,
			ReplyDelayTicks:  1,
			ReplyWindowTicks: 50,
			CaptureSize:      32,
			Backend:          "loopback",
			Pin:              18,
			PinName:          "GPIO18",
		},
		Serial: SerialConfig{
			Enabled:  false,
			PortPath: "/dev/ttyUSB0",
		},
		Monitor: MonitorConfig{
			Listen: ":8098",
		},
	}
}

// Load reads path, falling back to Default (and logging why) on any
// error, matching the dashboard config loader's forgiving-by-design
// behavior: a missing or broken config must never prevent startup.
func Load(path string) *Config {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
		return cfg
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = Default()
		cfg.path = path
		return cfg
	}
	log.Printf("[config] loaded from %s", path)
	return cfg
}

// Save writes the configuration to path or, when path is empty, back to
// the path it was loaded from or last saved to.
func (c *Config) Save(path string) error {
	if path != "" {
		c.path = path
	}
	if c.path == "" {
		return fmt.Errorf("config: no path to save to")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(c.path, data, 0644)
}
