// Package config loads the CLI configuration: logging and target
// definitions. Order: defaults, then the YAML file, then environment
// overrides, then validation.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full CLI configuration.
type Config struct {
	Logging Logging  `yaml:"logging"`
	Targets []Target `yaml:"targets"`
}

// Logging selects the handler the CLI installs as slog default.
type Logging struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Target defines one storage target the CLI can bind pipeline steps
// to. Kind selects the backend; the remaining fields apply per kind.
type Target struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // memory | sqlite | mongo | object

	// memory
	VectorField string `yaml:"vector_field,omitempty"`

	// sqlite
	Path string `yaml:"path,omitempty"`

	// mongo
	URI        string `yaml:"uri,omitempty"`
	Database   string `yaml:"database,omitempty"`
	Collection string `yaml:"collection,omitempty"`

	// object
	Object Object `yaml:"object,omitempty"`
}

// Object configures an object target's store, codec and metrics.
type Object struct {
	Store string `yaml:"store"` // memory | fs | s3

	// fs
	Root string `yaml:"root,omitempty"`

	// s3
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`

	Compress bool `yaml:"compress,omitempty"`
	Metrics  bool `yaml:"metrics,omitempty"`
}

// Default returns the configuration used when no file is given: info
// level text logging and no targets.
func Default() Config {
	return Config{
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path over the defaults. An
// empty path keeps the defaults. Environment variables override the
// file: OPERON_LOG_LEVEL and OPERON_LOG_FORMAT.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPERON_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OPERON_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for contradictions and missing
// fields before anything opens a connection.
func (c *Config) Validate() error {
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q: must be text or json", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		if t.Name == "" {
			return fmt.Errorf("%s: name is required", field)
		}
		if seen[t.Name] {
			return fmt.Errorf("%s: duplicate target name %q", field, t.Name)
		}
		seen[t.Name] = true
		if err := t.validate(field); err != nil {
			return err
		}
	}
	return nil
}

func (t *Target) validate(field string) error {
	switch t.Kind {
	case "memory":
	case "sqlite":
		if t.Path == "" {
			return fmt.Errorf("%s: sqlite target needs a path", field)
		}
	case "mongo":
		if t.URI == "" {
			return fmt.Errorf("%s: mongo target needs a uri", field)
		}
	case "object":
		return t.Object.validate(field + ".object")
	default:
		return fmt.Errorf("%s: unknown kind %q", field, t.Kind)
	}
	return nil
}

func (o *Object) validate(field string) error {
	switch o.Store {
	case "memory":
	case "fs":
		if o.Root == "" {
			return fmt.Errorf("%s: fs store needs a root", field)
		}
	case "s3":
		if o.Endpoint == "" || o.Bucket == "" {
			return fmt.Errorf("%s: s3 store needs an endpoint and a bucket", field)
		}
	default:
		return fmt.Errorf("%s: unknown store %q", field, o.Store)
	}
	return nil
}

// SlogLevel translates the configured level name.
func (l Logging) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level %q: must be debug, info, warn or error", l.Level)
	}
}
