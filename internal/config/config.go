// Package config loads passgfw settings from YAML.
//
// Config file locations (priority order):
//  1. $PASSGFW_CONFIG
//  2. ./passgfw.yaml
//  3. ~/.config/passgfw/config.yaml
//
// A missing file is not an error: the built-in endpoints, key and protocol defaults apply.
package config

/*
passgfw — verified endpoint discovery for filtered networks
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/x-stp/passgfw/internal/client"
	"github.com/x-stp/passgfw/internal/core"
)

// Config is the on-disk configuration.
type Config struct {
	Version int `yaml:"version"`

	// Endpoints replaces the built-in endpoint set when non-empty.
	Endpoints []string `yaml:"endpoints,omitempty"`
	// PublicKeyFile points at a PEM public key; it wins over PublicKey.
	PublicKeyFile string `yaml:"public_key_file,omitempty"`
	// PublicKey is an inline PEM public key.
	PublicKey string `yaml:"public_key,omitempty"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	HTTP      HTTPConfig      `yaml:"http"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DiscoveryConfig tunes the search loop.
type DiscoveryConfig struct {
	URLInterval       Duration `yaml:"url_interval"`
	RetryInterval     Duration `yaml:"retry_interval"`
	RetryDelay        Duration `yaml:"retry_delay"`
	MaxRetries        int      `yaml:"max_retries"`
	MaxListDepth      int      `yaml:"max_list_depth"`
	MaxClientDataSize int      `yaml:"max_client_data_size"`
}

// HTTPConfig tunes the transport.
type HTTPConfig struct {
	RequestTimeout    Duration `yaml:"request_timeout"`
	UserAgent         string   `yaml:"user_agent"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	MaxBodySize       int64    `yaml:"max_body_size"`
}

// ServerConfig configures the reference responder.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	Domain         string `yaml:"domain,omitempty"`
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
	// Routes maps a client_data value to the domain asserted for it.
	Routes map[string]string `yaml:"routes,omitempty"`
	// List is served at /list as a marker-delimited document.
	List []string `yaml:"list,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	s := core.DefaultSettings()

	if c.Version == 0 {
		c.Version = 1
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = append([]string(nil), DefaultEndpoints...)
	}

	if c.Discovery.URLInterval == 0 {
		c.Discovery.URLInterval = Duration(s.URLInterval)
	}
	if c.Discovery.RetryInterval == 0 {
		c.Discovery.RetryInterval = Duration(s.RetryInterval)
	}
	if c.Discovery.RetryDelay == 0 {
		c.Discovery.RetryDelay = Duration(s.RetryDelay)
	}
	if c.Discovery.MaxRetries == 0 {
		c.Discovery.MaxRetries = s.MaxRetries
	}
	if c.Discovery.MaxListDepth == 0 {
		c.Discovery.MaxListDepth = s.MaxListDepth
	}
	if c.Discovery.MaxClientDataSize == 0 {
		c.Discovery.MaxClientDataSize = s.MaxClientDataSize
	}

	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = Duration(core.RequestTimeout)
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = client.DefaultUserAgent
	}
	if c.HTTP.RequestsPerSecond == 0 {
		c.HTTP.RequestsPerSecond = client.DefaultRequestsPerSecond
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = client.DefaultBurst
	}
	if c.HTTP.MaxBodySize == 0 {
		c.HTTP.MaxBodySize = client.DefaultMaxBodySize
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// Validate rejects values that would stall or disable discovery.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Settings().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.RequestTimeout < 0 {
		errs = append(errs, errors.New("http.request_timeout must be positive"))
	}
	if c.HTTP.Burst < 0 || c.HTTP.MaxBodySize < 0 {
		errs = append(errs, errors.New("http.burst and http.max_body_size must be positive"))
	}
	for i, ep := range c.Endpoints {
		if _, err := core.ExtractDomain(ep); err != nil {
			errs = append(errs, fmt.Errorf("endpoints[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Settings returns the discovery tunables.
func (c *Config) Settings() core.Settings {
	s := core.DefaultSettings()
	s.URLInterval = c.Discovery.URLInterval.Duration()
	s.RetryInterval = c.Discovery.RetryInterval.Duration()
	s.RetryDelay = c.Discovery.RetryDelay.Duration()
	s.MaxRetries = c.Discovery.MaxRetries
	s.MaxListDepth = c.Discovery.MaxListDepth
	s.MaxClientDataSize = c.Discovery.MaxClientDataSize
	return s
}

// HTTPClientConfig returns the transport configuration.
func (c *Config) HTTPClientConfig() *client.Config {
	cfg := client.DefaultConfig()
	cfg.RequestTimeout = c.HTTP.RequestTimeout.Duration()
	cfg.UserAgent = c.HTTP.UserAgent
	cfg.RequestsPerSecond = c.HTTP.RequestsPerSecond
	cfg.Burst = c.HTTP.Burst
	cfg.MaxBodySize = c.HTTP.MaxBodySize
	return cfg
}

// PublicKeyPEM returns the verification key: the key file if set, then the inline key,
// then the built-in key.
func (c *Config) PublicKeyPEM() ([]byte, error) {
	if c.PublicKeyFile != "" {
		data, err := os.ReadFile(c.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		return data, nil
	}
	if c.PublicKey != "" {
		return []byte(c.PublicKey), nil
	}
	return BuiltinPublicKeyPEM(), nil
}
