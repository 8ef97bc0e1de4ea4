// Package app wires configuration, logging, observability and the proxy
// client into a single application instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gaborage/go-modelproxy/config"
	"github.com/gaborage/go-modelproxy/httpclient"
	"github.com/gaborage/go-modelproxy/logger"
	"github.com/gaborage/go-modelproxy/modelproxy"
	"github.com/gaborage/go-modelproxy/observability"
)

// App holds the long-lived components of a model proxy client process.
type App struct {
	cfg    *config.Config
	log    logger.Logger
	obs    observability.Provider
	client *modelproxy.Client
}

// New loads configuration and creates an application instance from it.
func New(opts ...Option) (*App, error) {
	o := newOptions(opts)
	cfg, err := config.Load(o.configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newApp(cfg, o)
}

// NewWithConfig creates an application instance from an already loaded configuration.
func NewWithConfig(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	return newApp(cfg, newOptions(opts))
}

func newApp(cfg *config.Config, o *options) (*App, error) {
	log := o.log
	if log == nil {
		log = newLogger(cfg.Log, o.logWriter)
	}

	obs, err := observability.NewProvider(cfg.Observability, observability.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	execOpts := append([]httpclient.Option{
		httpclient.WithLogger(log),
		httpclient.WithTracerProvider(obs.TracerProvider()),
	}, o.executorOpts...)

	client := modelproxy.NewClient(cfg.Proxy,
		modelproxy.WithExecutor(httpclient.NewExecutor(execOpts...)),
		modelproxy.WithLogger(log),
		modelproxy.WithRetryPolicy(cfg.Retry.Policy()),
	)

	log.Debug().
		Str("base_url", client.BaseURL()).
		Str("model", cfg.Proxy.Model).
		Int("max_attempts", cfg.Retry.MaxAttempts).
		Bool("observability", cfg.Observability.Enabled).
		Msg("Application initialized")

	return &App{cfg: cfg, log: log, obs: obs, client: client}, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) logger.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		return logger.NewWithWriter(logger.ConsoleWriter(w), cfg.Level, nil)
	}
	return logger.NewWithWriter(w, cfg.Level, nil)
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the application logger
func (a *App) Logger() logger.Logger { return a.log }

// Client returns the model proxy client
func (a *App) Client() *modelproxy.Client { return a.client }

// Shutdown flushes and stops the observability pipeline.
func (a *App) Shutdown(ctx context.Context) error {
	if err := observability.Shutdown(ctx, a.obs); err != nil {
		a.log.Error().Err(err).Msg("Failed to shutdown observability provider")
		return err
	}
	a.log.Debug().Msg("Application shutdown complete")
	return nil
}
