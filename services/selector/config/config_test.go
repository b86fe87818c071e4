// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Root != "." {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.CacheDir != ".testsieve" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.Backend != "token" {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.Build.HighVolumeThreshold != 2000 {
		t.Errorf("HighVolumeThreshold = %d", cfg.Build.HighVolumeThreshold)
	}
	if cfg.Server.Addr != "127.0.0.1:8743" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Watch.Debounce != 400*time.Millisecond {
		t.Errorf("Watch.Debounce = %v", cfg.Watch.Debounce)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testsieve.yaml")
	yaml := `root: /srv/app
backend: tree
method_level: false
build:
  partitions: 8
server:
  addr: "0.0.0.0:9000"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/srv/app" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.Backend != "tree" {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.MethodLevel {
		t.Error("MethodLevel not overridden to false")
	}
	if cfg.Build.Partitions != 8 {
		t.Errorf("Partitions = %d", cfg.Build.Partitions)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	// Unset keys keep their defaults.
	if cfg.Build.HighVolumeThreshold != 2000 {
		t.Errorf("HighVolumeThreshold = %d, want default", cfg.Build.HighVolumeThreshold)
	}
}

func TestLoad_MissingNamedFileIsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of a missing named file returned nil error")
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("TESTSIEVE_BACKEND", "tree")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "tree" {
		t.Errorf("Backend = %q, want env override", cfg.Backend)
	}
}

func TestLoad_InvalidFileContentRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("backend: quantum\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Load error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults valid", func(c *Config) {}, true},
		{"empty root", func(c *Config) { c.Root = "" }, false},
		{"no extensions", func(c *Config) { c.Extensions = nil }, false},
		{"extension without dot", func(c *Config) { c.Extensions = []string{"php"} }, false},
		{"unknown backend", func(c *Config) { c.Backend = "psyche" }, false},
		{"zero partitions", func(c *Config) { c.Build.Partitions = 0 }, false},
		{"too many partitions", func(c *Config) { c.Build.Partitions = 65 }, false},
		{"sub-second partition timeout", func(c *Config) { c.Build.PartitionTimeout = 100 * time.Millisecond }, false},
		{"bad listen address", func(c *Config) { c.Server.Addr = "not an address" }, false},
		{"tiny debounce", func(c *Config) { c.Watch.Debounce = time.Millisecond }, false},
		{"empty cache dir allowed", func(c *Config) { c.CacheDir = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := Validate(cfg)
			if tt.wantOK && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.wantOK {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate error = %v, want ErrInvalidConfig", err)
				}
			}
		})
	}
}
