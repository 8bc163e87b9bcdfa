// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

// Package config loads PermSync configuration from a YAML file with
// command-line flag overrides.
package config

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the full PermSync configuration.
type Config struct {
	Database      Database      `koanf:"database"`
	Listener      Listener      `koanf:"listener"`
	Sync          Sync          `koanf:"sync"`
	Observability Observability `koanf:"observability"`
	Log           Log           `koanf:"log"`
}

// Database configures the connection to the permission database.
type Database struct {
	URL string `koanf:"url"`
}

// Listener configures the LISTEN/NOTIFY connection.
type Listener struct {
	ReconnectInitial time.Duration `koanf:"reconnect_initial"`
	ReconnectMax     time.Duration `koanf:"reconnect_max"`
}

// Sync configures resolution behavior.
type Sync struct {
	GracePeriod   time.Duration `koanf:"grace_period"`
	FallbackGroup string        `koanf:"fallback_group"`
}

// Observability configures the metrics and health endpoint.
type Observability struct {
	Addr string `koanf:"addr"`
}

// Log configures structured logging output.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Database: Database{
			URL: "postgres://localhost:5432/permsync?sslmode=disable",
		},
		Listener: Listener{
			ReconnectInitial: 100 * time.Millisecond,
			ReconnectMax:     30 * time.Second,
		},
		Sync: Sync{
			GracePeriod:   time.Second,
			FallbackGroup: "default",
		},
		Observability: Observability{
			Addr: "127.0.0.1:9100",
		},
		Log: Log{
			Format: "json",
			Level:  "info",
		},
	}
}

// Load reads configuration in precedence order: defaults, then the
// YAML file at path (skipped when path is empty), then flags that were
// explicitly set. Flag names use dots matching config keys, for
// example "database.url".
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_READ_FAILED").
				With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return Config{}, oops.In("config").Code("CONFIG_PARSE_FAILED").
			With("path", path).Wrap(err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Database.URL == "" {
		return oops.In("config").Code("CONFIG_INVALID").
			Errorf("database.url must not be empty")
	}
	if c.Sync.GracePeriod < 0 {
		return oops.In("config").Code("CONFIG_INVALID").
			Errorf("sync.grace_period must not be negative")
	}
	if c.Listener.ReconnectInitial <= 0 || c.Listener.ReconnectMax < c.Listener.ReconnectInitial {
		return oops.In("config").Code("CONFIG_INVALID").
			Errorf("listener reconnect bounds must be positive and ordered")
	}
	return nil
}
