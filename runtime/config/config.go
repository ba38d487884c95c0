// Package config loads the acontextd configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the daemon configuration.
	Config struct {
		// HTTPAddr is the listen address of the HTTP server.
		HTTPAddr string `yaml:"http_addr"`
		// Debug enables debug logs.
		Debug bool `yaml:"debug"`
		// Store selects and configures message persistence.
		Store Store `yaml:"store"`
		// Tokens configures token counting used by editing strategies.
		Tokens Tokens `yaml:"tokens"`
		// PresetsFile is an optional YAML file of named strategy lists.
		PresetsFile string `yaml:"presets_file"`
	}

	// Store configures message persistence.
	Store struct {
		// Kind is "inmem" or "mongo".
		Kind       string        `yaml:"kind"`
		MongoURI   string        `yaml:"mongo_uri"`
		Database   string        `yaml:"database"`
		Collection string        `yaml:"collection"`
		Timeout    time.Duration `yaml:"timeout"`
	}

	// Tokens configures the token counter chain.
	Tokens struct {
		// Counter is "estimate" or "anthropic".
		Counter string `yaml:"counter"`
		// Anthropic configures the remote counter.
		Anthropic Anthropic `yaml:"anthropic"`
		// RedisAddr enables the count cache and the shared rate budget
		// when set.
		RedisAddr string `yaml:"redis_addr"`
		// CacheTTL bounds the lifetime of cached counts.
		CacheTTL time.Duration `yaml:"cache_ttl"`
	}

	// Anthropic configures the Anthropic token counter.
	Anthropic struct {
		// APIKeyEnv names the environment variable holding the API key.
		APIKeyEnv string  `yaml:"api_key_env"`
		Model     string  `yaml:"model"`
		RPM       float64 `yaml:"rpm"`
		MaxRPM    float64 `yaml:"max_rpm"`
		// SharedBudget names the Pulse replicated map holding the rate
		// budget. Empty keeps the budget local to the process.
		SharedBudget string `yaml:"shared_budget"`
	}
)

const (
	StoreInmem = "inmem"
	StoreMongo = "mongo"

	CounterEstimate  = "estimate"
	CounterAnthropic = "anthropic"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8088",
		Store: Store{
			Kind:       StoreInmem,
			Database:   "acontext",
			Collection: "acontext_messages",
			Timeout:    5 * time.Second,
		},
		Tokens: Tokens{
			Counter:  CounterEstimate,
			CacheTTL: 24 * time.Hour,
			Anthropic: Anthropic{
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Model:     "claude-sonnet-4-5",
				RPM:       600,
				MaxRPM:    3000,
			},
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()
	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends are fully configured.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch c.Store.Kind {
	case StoreInmem:
	case StoreMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri is required for the mongo store"))
		}
		if c.Store.Database == "" {
			errs = append(errs, errors.New("store.database is required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.kind %q must be %q or %q", c.Store.Kind, StoreInmem, StoreMongo))
	}
	switch c.Tokens.Counter {
	case CounterEstimate:
	case CounterAnthropic:
		if c.Tokens.Anthropic.Model == "" {
			errs = append(errs, errors.New("tokens.anthropic.model is required"))
		}
		if c.Tokens.Anthropic.APIKeyEnv == "" {
			errs = append(errs, errors.New("tokens.anthropic.api_key_env is required"))
		}
		if c.Tokens.Anthropic.MaxRPM > 0 && c.Tokens.Anthropic.MaxRPM < c.Tokens.Anthropic.RPM {
			errs = append(errs, errors.New("tokens.anthropic.max_rpm must not be below rpm"))
		}
	default:
		errs = append(errs, fmt.Errorf("tokens.counter %q must be %q or %q", c.Tokens.Counter, CounterEstimate, CounterAnthropic))
	}
	if c.Tokens.Anthropic.SharedBudget != "" && c.Tokens.RedisAddr == "" {
		errs = append(errs, errors.New("tokens.anthropic.shared_budget requires tokens.redis_addr"))
	}
	return errors.Join(errs...)
}
