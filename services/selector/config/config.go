// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads engine configuration from a YAML file plus
// TESTSIEVE_* environment overrides, with struct-tag validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full engine configuration.
type Config struct {
	// Root is the project directory to analyze.
	Root string `mapstructure:"root" validate:"required"`

	// CacheDir is where snapshots persist. Empty disables persistence.
	CacheDir string `mapstructure:"cache_dir"`

	// Extensions lists the file extensions to scan.
	Extensions []string `mapstructure:"extensions" validate:"min=1,dive,startswith=."`

	// Backend selects the extraction backend: "token" or "tree".
	Backend string `mapstructure:"backend" validate:"oneof=token tree"`

	// MethodLevel enables the method call graph.
	MethodLevel bool `mapstructure:"method_level"`

	// Build tunes the builder.
	Build BuildConfig `mapstructure:"build"`

	// Server tunes the HTTP surface.
	Server ServerConfig `mapstructure:"server"`

	// Watch tunes the filesystem watcher.
	Watch WatchConfig `mapstructure:"watch"`
}

// BuildConfig tunes graph construction.
type BuildConfig struct {
	// HighVolumeThreshold is the file count above which extraction is
	// partitioned.
	HighVolumeThreshold int `mapstructure:"high_volume_threshold" validate:"min=1"`

	// Partitions is the parallel extraction worker count.
	Partitions int `mapstructure:"partitions" validate:"min=1,max=64"`

	// PartitionTimeout bounds one partition's extraction pass.
	PartitionTimeout time.Duration `mapstructure:"partition_timeout" validate:"min=1s"`
}

// ServerConfig tunes the HTTP server.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"min=1s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=1s"`
}

// WatchConfig tunes the filesystem watcher.
type WatchConfig struct {
	// Debounce is the quiet period before a rebuild fires.
	Debounce time.Duration `mapstructure:"debounce" validate:"min=10ms"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Root:        ".",
		CacheDir:    ".testsieve",
		Extensions:  []string{".php"},
		Backend:     "token",
		MethodLevel: true,
		Build: BuildConfig{
			HighVolumeThreshold: 2000,
			Partitions:          4,
			PartitionTimeout:    60 * time.Second,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8743",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 400 * time.Millisecond,
		},
	}
}

// Load reads configuration from path (optional), layers environment
// overrides on top of defaults and validates the result.
//
// # Inputs
//
//   - path: Config file path. Empty means defaults plus environment
//     only; a named file that does not exist is an error.
//
// # Outputs
//
//   - Config: The validated configuration.
//   - error: Wraps ErrInvalidConfig for validation failures.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TESTSIEVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("root", def.Root)
	v.SetDefault("cache_dir", def.CacheDir)
	v.SetDefault("extensions", def.Extensions)
	v.SetDefault("backend", def.Backend)
	v.SetDefault("method_level", def.MethodLevel)
	v.SetDefault("build.high_volume_threshold", def.Build.HighVolumeThreshold)
	v.SetDefault("build.partitions", def.Build.Partitions)
	v.SetDefault("build.partition_timeout", def.Build.PartitionTimeout)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("watch.debounce", def.Watch.Debounce)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks a configuration against its struct tags.
func Validate(cfg Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
