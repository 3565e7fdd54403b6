// Copyright 2025 go-recfilter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config reads runtime settings for compiled filters from the
// environment and an optional configuration file.
//
// Environment variables use the RECFILTER_ prefix:
//
//	RECFILTER_WORKERS    worker goroutines (0 = GOMAXPROCS)
//	RECFILTER_SERIAL     run every stage on the calling goroutine
//	RECFILTER_LOG_LEVEL  debug, info, warn or error
//	RECFILTER_TARGET     default compilation target ("host")
//	RECFILTER_CONFIG     path of a YAML/JSON/TOML file with the same keys
package config

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the settings.
type Config struct {
	Workers  int
	Serial   bool
	LogLevel slog.Level
	Target   string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{Target: "host", LogLevel: slog.LevelInfo}
}

// Load reads the environment and, if RECFILTER_CONFIG is set, the file it
// names. Environment values win over file values.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RECFILTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("workers", def.Workers)
	v.SetDefault("serial", def.Serial)
	v.SetDefault("log_level", "info")
	v.SetDefault("target", def.Target)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "config: reading %s", path)
		}
	}

	level, err := ParseLevel(v.GetString("log_level"))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Workers:  v.GetInt("workers"),
		Serial:   v.GetBool("serial"),
		LogLevel: level,
		Target:   v.GetString("target"),
	}
	if cfg.Workers < 0 {
		return Config{}, errors.Errorf("config: workers must be >= 0, got %d", cfg.Workers)
	}
	return cfg, nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, errors.Wrapf(err, "config: log level %q", s)
	}
	return l, nil
}

// EffectiveWorkers returns the worker count a pool should be created with.
func (c Config) EffectiveWorkers() int {
	if c.Serial {
		return 1
	}
	return c.Workers
}
