// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	mergeEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decodeStrict rejects unknown keys so typos fail loudly.
func decodeStrict(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks invariants that would otherwise fail deep inside a callback.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Server.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.public_url must be an absolute URL, got %q", c.Server.PublicURL))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Interview.PINLength < 4 || c.Interview.PINLength > 10 {
		errs = append(errs, fmt.Errorf("interview.pin_length must be between 4 and 10, got %d", c.Interview.PINLength))
	}
	if c.Interview.PINTTL <= 0 {
		errs = append(errs, errors.New("interview.pin_ttl must be positive"))
	}
	if c.Interview.NotifyQueueSize <= 0 {
		errs = append(errs, errors.New("interview.notify_queue_size must be positive"))
	}
	if c.Twilio.ValidateSignatures && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("twilio.auth_token is required when validate_signatures is enabled"))
	}
	return errors.Join(errs...)
}

// AudioPackFor returns the locale's pack with gaps filled from the default pack.
func (c Config) AudioPackFor(locale string) AudioPack {
	if pack, ok := c.Locales[locale]; ok {
		return pack.Merge(c.Audio)
	}
	return c.Audio
}
