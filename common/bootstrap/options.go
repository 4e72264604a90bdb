package bootstrap

import (
	"github.com/lyzr/flowdeploy/common/config"
	"github.com/lyzr/flowdeploy/common/db"
	"github.com/lyzr/flowdeploy/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipHistory   bool
	skipCache     bool
	skipTelemetry bool
	customLogger  *logger.Logger
	customConfig  *config.Config
	opener        db.Opener
	historyHook   func(db.Store) error
}

// WithoutHistory skips opening the history store
func WithoutHistory() Option {
	return func(o *options) {
		o.skipHistory = true
	}
}

// WithoutCache skips cache initialization
func WithoutCache() Option {
	return func(o *options) {
		o.skipCache = true
	}
}

// WithoutTelemetry skips telemetry initialization
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithStoreOpener replaces the config-driven opener of the store registry
func WithStoreOpener(opener db.Opener) Option {
	return func(o *options) {
		o.opener = opener
	}
}

// WithHistoryInitHook runs a custom function after the history store is migrated.
// Useful for seeding data in tests.
func WithHistoryInitHook(hook func(db.Store) error) Option {
	return func(o *options) {
		o.historyHook = hook
	}
}

func defaultOptions() *options {
	return &options{}
}
