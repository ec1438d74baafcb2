/*
Copyright 2017 The Kubernetes Authors.

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

// Package config loads and validates sherpa-dns's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Source holds source.* configuration.
type Source struct {
	LabelPrefix string `yaml:"label_prefix"`
	LabelFilter string `yaml:"label_filter"`
}

// CloudflareProvider holds provider.cloudflare.* configuration.
type CloudflareProvider struct {
	APIToken         string `yaml:"api_token"`
	ProxiedByDefault bool   `yaml:"proxied_by_default"`
}

// Provider holds provider.* configuration.
type Provider struct {
	Name       string             `yaml:"name"`
	Cloudflare CloudflareProvider `yaml:"cloudflare"`
}

// Registry holds registry.* configuration.
type Registry struct {
	Type                  string `yaml:"type"`
	TXTPrefix             string `yaml:"txt_prefix"`
	TXTOwnerID            string `yaml:"txt_owner_id"`
	TXTWildcardReplacement string `yaml:"txt_wildcard_replacement"`
	EncryptTXT            bool   `yaml:"encrypt_txt"`
	EncryptionKey         string `yaml:"encryption_key"`
}

// Controller holds controller.* configuration.
type Controller struct {
	Interval       time.Duration `yaml:"interval"`
	Once           bool          `yaml:"once"`
	DryRun         bool          `yaml:"dry_run"`
	CleanupOnStop  bool          `yaml:"cleanup_on_stop"`
	CleanupDelay   time.Duration `yaml:"cleanup_delay"`
	HealthAddr     string        `yaml:"health_addr"`
}

// Domains holds domains.* configuration.
type Domains struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Logging holds logging.* configuration.
type Logging struct {
	Level string `yaml:"level"`
}

// Config is sherpa-dns's full, validated runtime configuration.
type Config struct {
	Source     Source     `yaml:"source"`
	Provider   Provider   `yaml:"provider"`
	Registry   Registry   `yaml:"registry"`
	Controller Controller `yaml:"controller"`
	Domains    Domains    `yaml:"domains"`
	Logging    Logging    `yaml:"logging"`
}

func defaults() *Config {
	return &Config{
		Source: Source{
			LabelPrefix: "sherpa.dns",
		},
		Provider: Provider{
			Name: "cloudflare",
		},
		Registry: Registry{
			Type:                   "txt",
			TXTPrefix:              "sherpa-dns-",
			TXTOwnerID:             "default",
			TXTWildcardReplacement: "star",
		},
		Controller: Controller{
			Interval:      time.Minute,
			CleanupOnStop: true,
			CleanupDelay:  15 * time.Minute,
			HealthAddr:    ":8080",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the YAML config file at path, applies ${NAME}/${NAME:-default}
// environment-variable interpolation, unmarshals it over a defaulted
// Config, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	interpolated := interpolateEnv(string(raw))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Provider.Name == "cloudflare" && c.Provider.Cloudflare.APIToken == "" {
		return fmt.Errorf("provider.cloudflare.api_token is required")
	}
	if c.Controller.Interval <= 0 {
		return fmt.Errorf("controller.interval must be a positive duration")
	}
	if c.Registry.TXTOwnerID == "" {
		return fmt.Errorf("registry.txt_owner_id cannot be empty")
	}
	if c.Registry.EncryptTXT && c.Registry.EncryptionKey == "" {
		return fmt.Errorf("registry.encryption_key is required when registry.encrypt_txt is true")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}
