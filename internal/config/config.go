/*
Copyright 2025 The Courier Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads service configuration from an optional YAML file and
// the environment, with the environment taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "2s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds everything both binaries need. Fields are populated from the
// YAML file named by COURIER_CONFIG (if set), then overridden by environment
// variables.
type Config struct {
	DatabaseURL string `yaml:"database_url" validate:"required"`

	API struct {
		Port int `yaml:"port" validate:"gte=1,lte=65535"`
	} `yaml:"api"`

	Worker struct {
		PollInterval Duration `yaml:"poll_interval" validate:"gt=0"`
		BatchSize    int      `yaml:"batch_size" validate:"gte=1"`
		MetricsPort  int      `yaml:"metrics_port" validate:"gte=1,lte=65535"`
	} `yaml:"worker"`

	Admin struct {
		ReadKey  string `yaml:"read_key"`
		WriteKey string `yaml:"write_key"`
	} `yaml:"admin"`
}

// Load builds the configuration. Defaults are applied first, then the YAML
// file, then the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.API.Port = 3000
	cfg.Worker.PollInterval = Duration(time.Second)
	cfg.Worker.BatchSize = 10
	cfg.Worker.MetricsPort = 9090

	if path := os.Getenv("COURIER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if v := os.Getenv("WORKER_POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse WORKER_POLL_INTERVAL_MS: %w", err)
		}
		cfg.Worker.PollInterval = Duration(time.Duration(ms) * time.Millisecond)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse WORKER_BATCH_SIZE: %w", err)
		}
		cfg.Worker.BatchSize = n
	}
	if v := os.Getenv("WORKER_METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse WORKER_METRICS_PORT: %w", err)
		}
		cfg.Worker.MetricsPort = port
	}
	if v := os.Getenv("ADMIN_API_KEY_READ"); v != "" {
		cfg.Admin.ReadKey = v
	}
	if v := os.Getenv("ADMIN_API_KEY_WRITE"); v != "" {
		cfg.Admin.WriteKey = v
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
