// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mbridge holds the process level configuration of the mBridge
// server.
package mbridge

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable read by NewConfig.
const EnvPrefix = "MBRIDGE_"

var (
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	logFormats = map[string]bool{"json": true, "text": true}
)

// Config holds the observability and shutdown settings. The listen port is
// not part of it: it is the command line argument of the server.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Empty addresses disable the matching HTTP server.
	MetricsAddress string `env:"METRICS_ADDRESS"`
	HealthAddress  string `env:"HEALTH_ADDRESS"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// NewConfig parses the environment into a Config.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	if !logLevels[c.LogLevel] {
		return Config{}, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if !logFormats[c.LogFormat] {
		return Config{}, fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return c, nil
}
