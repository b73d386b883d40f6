// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package config holds the settings of an rdb server or client, with
// defaults and loading from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/creachadair/rdb"
	"gopkg.in/yaml.v3"
)

// Defaults for the bootstrap parameters.
const (
	DefaultPort      = 1235
	DefaultEvaluator = "assign"
)

// Evaluator names accepted by the Evaluator field.
var evaluators = []string{"assign", "lisp"}

// Config holds the settings shared by the rdb server and client.
type Config struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Passcode string `yaml:"passcode" json:"passcode"`
	Verbose  bool   `yaml:"verbose" json:"verbose"`

	// TLS certificate and key files. Both or neither must be set.
	Cert string `yaml:"cert" json:"cert"`
	Key  string `yaml:"key" json:"key"`

	ReadTimeout      time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" json:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// Evaluator selects how evaluation requests are run ("assign" or "lisp").
	Evaluator string `yaml:"evaluator" json:"evaluator"`

	// Dashboard is the listen address of the HTML dashboard. Empty disables it.
	Dashboard string `yaml:"dashboard" json:"dashboard"`
}

// Default returns a Config with the default settings.
func Default() *Config {
	return &Config{
		Port:             DefaultPort,
		Passcode:         rdb.DefaultPasscode,
		HandshakeTimeout: 10 * time.Second,
		Evaluator:        DefaultEvaluator,
	}
}

// DefaultPath returns the default config file path: $XDG_CONFIG_HOME/rdb/config.yaml
// or its platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".rdb", "config.yaml")
	}
	return filepath.Join(dir, "rdb", "config.yaml")
}

// Load reads the configuration from the given YAML file path, on top of the
// defaults. If the file does not exist, it returns the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Check permissions before reading: warn if the config file is readable
	// by others, since it may contain a passcode.
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		slog.Warn("config file is accessible to other users; the passcode may be exposed",
			"path", path, "perm", fmt.Sprintf("%04o", perm), "want", "0600")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate reports an error if the settings of c are inconsistent.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(c.Passcode) > rdb.MaxPasscodeLen {
		errs = append(errs, fmt.Errorf("passcode longer than %d bytes", rdb.MaxPasscodeLen))
	}
	if (c.Cert == "") != (c.Key == "") {
		errs = append(errs, errors.New("cert and key must be set together"))
	}
	for name, d := range map[string]time.Duration{
		"read_timeout":      c.ReadTimeout,
		"write_timeout":     c.WriteTimeout,
		"handshake_timeout": c.HandshakeTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s is negative (%v)", name, d))
		}
	}
	if !slices.Contains(evaluators, c.Evaluator) {
		errs = append(errs, fmt.Errorf("unknown evaluator %q (want one of %q)", c.Evaluator, evaluators))
	}
	return errors.Join(errs...)
}

// Addr returns the listen (or dial) address for the protocol server.
func (c *Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// UseTLS reports whether c enables TLS.
func (c *Config) UseTLS() bool { return c.Cert != "" && c.Key != "" }

// InsecurePasscode reports whether c uses the default passcode.
func (c *Config) InsecurePasscode() bool { return c.Passcode == rdb.DefaultPasscode }
