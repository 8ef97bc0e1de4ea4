package app

import (
	"io"

	"github.com/gaborage/go-modelproxy/config"
	"github.com/gaborage/go-modelproxy/httpclient"
	"github.com/gaborage/go-modelproxy/logger"
)

type options struct {
	configOpts   []config.Option
	executorOpts []httpclient.Option
	log          logger.Logger
	logWriter    io.Writer
}

// Option customizes application construction
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithConfigOptions forwards options to config.Load
func WithConfigOptions(opts ...config.Option) Option {
	return func(o *options) { o.configOpts = append(o.configOpts, opts...) }
}

// WithExecutorOptions appends options to the request executor, after the
// application's own logger and tracer provider.
func WithExecutorOptions(opts ...httpclient.Option) Option {
	return func(o *options) { o.executorOpts = append(o.executorOpts, opts...) }
}

// WithLogger replaces the logger built from configuration
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithLogWriter sets where the configured logger writes. Defaults to stderr.
func WithLogWriter(w io.Writer) Option {
	return func(o *options) { o.logWriter = w }
}
