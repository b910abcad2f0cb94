// Package config reads runner settings from STATECRAFT_* environment
// variables. CLI flags override these values.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

type Config struct {
	DataDir       string `env:"STATECRAFT_DATA_DIR" envDefault:"./data"`
	ConfigDir     string `env:"STATECRAFT_CONFIG_DIR" envDefault:"./configs"`
	SnapshotEvery int    `env:"STATECRAFT_SNAPSHOT_EVERY" envDefault:"-1"`
	MetricsAddr   string `env:"STATECRAFT_METRICS_ADDR"`
	ObserverAddr  string `env:"STATECRAFT_OBSERVER_ADDR"`
	DisableDB     bool   `env:"STATECRAFT_DISABLE_DB"`
	LogLevel      string `env:"STATECRAFT_LOG_LEVEL" envDefault:"info"`
	LogJSON       bool   `env:"STATECRAFT_LOG_JSON"`

	// Optional S3-compatible mirror for run artefacts. Disabled unless
	// endpoint and bucket are both set.
	Mirror Mirror `envPrefix:"STATECRAFT_MIRROR_"`
}

type Mirror struct {
	Endpoint        string `env:"ENDPOINT"`
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION" envDefault:"auto"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Prefix          string `env:"PREFIX" envDefault:"statecraft"`
	Workers         int    `env:"WORKERS" envDefault:"2"`
}

func (m Mirror) Enabled() bool {
	return strings.TrimSpace(m.Endpoint) != "" && strings.TrimSpace(m.Bucket) != ""
}

// Load parses the environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return c, err
	}
	return c, nil
}

// Level maps LogLevel to a zerolog level.
func (c Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("STATECRAFT_LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
