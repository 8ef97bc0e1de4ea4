package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultEnvPrefix scopes the environment variables read by Load
	DefaultEnvPrefix = "MODELPROXY_"
	// DefaultFile is the optional YAML file read by Load
	DefaultFile = "config.yaml"
	// DefaultBaseURL is the hosted proxy endpoint
	DefaultBaseURL = "https://api.continue.dev"
)

type loadOptions struct {
	file      string
	envPrefix string
	yaml      []byte
}

// Option customizes Load
type Option func(*loadOptions)

// WithFile reads YAML from path instead of config.yaml. A missing file is
// not an error.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithEnvPrefix changes the environment variable prefix
func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) { o.envPrefix = prefix }
}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. YAML configuration file
// 3. Default values (lowest priority)
func Load(opts ...Option) (*Config, error) {
	o := &loadOptions{file: DefaultFile, envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(o)
	}
	return load(o)
}

// LoadFromBytes behaves like Load but reads YAML from data instead of a file.
// Environment variables still take precedence.
func LoadFromBytes(data []byte, opts ...Option) (*Config, error) {
	o := &loadOptions{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(o)
	}
	o.file = ""
	o.yaml = data
	return load(o)
}

func load(o *loadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	switch {
	case o.yaml != nil:
		if err := k.Load(rawbytes.Provider(o.yaml), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	case o.file != "":
		if err := k.Load(file.Provider(o.file), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", o.file, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: o.envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			// MODELPROXY_RETRY_MAXATTEMPTS -> retry.maxattempts
			key = strings.TrimPrefix(key, o.envPrefix)
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"proxy.baseurl":     DefaultBaseURL,
		"proxy.apikey":      "",
		"proxy.model":       "gpt-4",
		"proxy.temperature": 0.7,

		"retry.maxattempts":      5,
		"retry.initialdelay":     "2s",
		"retry.maxdelay":         "60s",
		"retry.jitter":           0.1,
		"retry.detectoverloaded": true,

		"log.level":  "info",
		"log.pretty": false,

		"observability.enabled":          false,
		"observability.service":          "go-modelproxy",
		"observability.environment":      "development",
		"observability.trace.enabled":    true,
		"observability.trace.protocol":   "http",
		"observability.metrics.enabled":  true,
		"observability.metrics.protocol": "http",
		"observability.metrics.interval": "60s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
