package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/gaborage/go-modelproxy/httpclient"
)

// Config is the root configuration of the model proxy client.
// The koanf instance is kept for access to keys not modelled here.
type Config struct {
	Proxy         ProxyConfig         `koanf:"proxy" json:"proxy" yaml:"proxy" mapstructure:"proxy"`
	Retry         RetryConfig         `koanf:"retry" json:"retry" yaml:"retry" mapstructure:"retry"`
	Log           LogConfig           `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability" yaml:"observability" mapstructure:"observability"`

	k *koanf.Koanf `json:"-" yaml:"-" mapstructure:"-"`
}

// ProxyConfig locates and authenticates against the inference proxy.
type ProxyConfig struct {
	BaseURL     string  `koanf:"baseurl" json:"baseurl" yaml:"baseurl" mapstructure:"baseurl" validate:"required,http_url"`
	APIKey      string  `koanf:"apikey" json:"-" yaml:"apikey" mapstructure:"apikey"`
	Model       string  `koanf:"model" json:"model" yaml:"model" mapstructure:"model" validate:"required"`
	Temperature float64 `koanf:"temperature" json:"temperature" yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// RetryConfig mirrors httpclient.RetryPolicy in configuration form.
type RetryConfig struct {
	MaxAttempts      int           `koanf:"maxattempts" json:"maxattempts" yaml:"maxattempts" mapstructure:"maxattempts" validate:"gte=1"`
	InitialDelay     time.Duration `koanf:"initialdelay" json:"initialdelay" yaml:"initialdelay" mapstructure:"initialdelay" validate:"gte=0"`
	MaxDelay         time.Duration `koanf:"maxdelay" json:"maxdelay" yaml:"maxdelay" mapstructure:"maxdelay" validate:"gte=0"`
	Jitter           float64       `koanf:"jitter" json:"jitter" yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
	DetectOverloaded bool          `koanf:"detectoverloaded" json:"detectoverloaded" yaml:"detectoverloaded" mapstructure:"detectoverloaded"`
}

// Policy converts the configuration into an executor retry policy
func (r RetryConfig) Policy() httpclient.RetryPolicy {
	return httpclient.RetryPolicy{
		MaxAttempts:      r.MaxAttempts,
		InitialDelay:     r.InitialDelay,
		MaxDelay:         r.MaxDelay,
		JitterFraction:   r.Jitter,
		DetectOverloaded: r.DetectOverloaded,
	}
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// ObservabilityConfig selects where traces and metrics are exported.
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled" json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Service     string `koanf:"service" json:"service" yaml:"service" mapstructure:"service" validate:"required_if=Enabled true"`
	Version     string `koanf:"version" json:"version" yaml:"version" mapstructure:"version"`
	Environment string `koanf:"environment" json:"environment" yaml:"environment" mapstructure:"environment"`

	Trace   ExporterConfig `koanf:"trace" json:"trace" yaml:"trace" mapstructure:"trace"`
	Metrics ExporterConfig `koanf:"metrics" json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// ExporterConfig configures one signal exporter. An empty endpoint or
// "stdout" writes to standard output.
type ExporterConfig struct {
	Enabled  bool   `koanf:"enabled" json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `koanf:"endpoint" json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	// Protocol is "http" or "grpc"
	Protocol string `koanf:"protocol" json:"protocol" yaml:"protocol" mapstructure:"protocol" validate:"omitempty,oneof=http grpc"`
	Insecure bool   `koanf:"insecure" json:"insecure" yaml:"insecure" mapstructure:"insecure"`
	// Interval is the metric export interval; ignored for traces
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" mapstructure:"interval"`
}
