// Package config reads settings from the environment, optionally seeded by a
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Journal struct {
	Driver string `env:"DRIVER" envDefault:"file"`
	// Path of the JSON file, or the DSN for sqlite and postgres.
	DSN string `env:"DSN" envDefault:"store.json"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"console"`
}

type Config struct {
	Addr    string `env:"U01_ADDR" envDefault:":4040"`
	Backend string `env:"U01_BACKEND" envDefault:"testu01"`
	// WorkDir receives uploads and the plot files the library writes.
	WorkDir     string   `env:"U01_WORKDIR" envDefault:"."`
	UploadLimit int64    `env:"U01_UPLOAD_LIMIT" envDefault:"33554432"`
	CORSOrigins []string `env:"U01_CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	ReadTimeout  time.Duration `env:"U01_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"U01_WRITE_TIMEOUT" envDefault:"30m"`
	IdleTimeout  time.Duration `env:"U01_IDLE_TIMEOUT" envDefault:"60s"`

	Journal Journal `envPrefix:"U01_JOURNAL_"`
	Log     Log     `envPrefix:"U01_LOG_"`
}

// Load reads the optional .env files (default ".env"), then the environment.
// Variables already set win over the files.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("U01_ADDR is empty"))
	}
	switch c.Backend {
	case "testu01", "dryrun":
	default:
		errs = append(errs, fmt.Errorf("U01_BACKEND %q: want testu01 or dryrun", c.Backend))
	}
	switch c.Journal.Driver {
	case "file", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("U01_JOURNAL_DRIVER %q: want file, sqlite or postgres", c.Journal.Driver))
	}
	if c.UploadLimit <= 0 {
		errs = append(errs, fmt.Errorf("U01_UPLOAD_LIMIT must be positive, got %d", c.UploadLimit))
	}
	return errors.Join(errs...)
}
