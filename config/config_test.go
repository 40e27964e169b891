// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if cfg.DShot.SpeedKbps != 600 {
		t.Fatalf("SpeedKbps = %d, want 600", cfg.DShot.SpeedKbps)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	cfg := Default()
	cfg.DShot.SpeedKbps = 1200
	cfg.DShot.PolePairs = 7
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded := Load(path)
	if loaded.DShot.SpeedKbps != 1200 {
		t.Errorf("SpeedKbps = %d, want 1200", loaded.DShot.SpeedKbps)
	}
	if loaded.DShot.PolePairs != 7 {
		t.Errorf("PolePairs = %d, want 7", loaded.DShot.PolePairs)
	}
}

func TestLoadCorruptFileFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("not: valid: yaml: ["), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := Load(path)
	if cfg.DShot.SpeedKbps != 600 {
		t.Fatalf("SpeedKbps = %d, want default 600", cfg.DShot.SpeedKbps)
	}
}
