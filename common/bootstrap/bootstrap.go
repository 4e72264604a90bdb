package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/flowdeploy/common/cache"
	"github.com/lyzr/flowdeploy/common/config"
	"github.com/lyzr/flowdeploy/common/db"
	"github.com/lyzr/flowdeploy/common/historydb"
	"github.com/lyzr/flowdeploy/common/logger"
	rediscommon "github.com/lyzr/flowdeploy/common/redis"
	"github.com/lyzr/flowdeploy/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for the deployer commands
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environments", len(components.Config.Environments),
	)

	// 3. Store registry; pools open lazily per (environment, role)
	opener := options.opener
	if opener == nil {
		opener = db.ConfigOpener(components.Config, components.Logger)
	}
	components.Stores = db.NewRegistry(opener, components.Logger)
	components.addCleanup(func() error {
		components.Logger.Info("closing store registry")
		return components.Stores.Close()
	})

	// 4. History store (if not skipped)
	if !options.skipHistory {
		components.Logger.Info("opening history store", "path", components.Config.History.Path)
		history, err := historydb.Open(ctx, components.Config.History.Path, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		components.History = history
		components.addCleanup(func() error {
			components.Logger.Info("closing history store")
			return history.Close()
		})

		if options.historyHook != nil {
			components.Logger.Info("running history init hook")
			if err := options.historyHook(history); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("history init hook failed: %w", err)
			}
		}
	}

	// 5. Initialize cache (if not skipped)
	if !options.skipCache {
		if err := setupCache(ctx, components); err != nil {
			components.Shutdown(ctx)
			return nil, err
		}
	}

	// 6. Initialize telemetry (if not skipped)
	if !options.skipTelemetry {
		tcfg := components.Config.Telemetry
		pprofPort, metricsPort := 0, 0
		if tcfg.EnablePprof {
			pprofPort = tcfg.PprofPort
		}
		if tcfg.EnableMetrics {
			metricsPort = tcfg.MetricsPort
		}

		components.Logger.Info("initializing telemetry",
			"pprof_port", pprofPort,
			"metrics_port", metricsPort,
		)
		components.Telemetry = telemetry.New(pprofPort, metricsPort, components.Logger)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
			// Don't fail startup if telemetry fails
		}
		components.addCleanup(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return components.Telemetry.Shutdown(shutdownCtx)
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"history", components.History != nil,
		"cache", components.Cache != nil,
		"redis", components.Redis != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

func setupCache(ctx context.Context, components *Components) error {
	cfg := components.Config
	components.Logger.Info("initializing cache", "backend", cfg.Cache.Backend)

	switch cfg.Cache.Backend {
	case "redis":
		client, err := rediscommon.Dial(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, components.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.Redis = client
		components.Cache = cache.NewRedisCache(client, cfg.Service.Name+":")
	default:
		components.Cache = cache.NewMemoryCache(components.Logger)
	}

	components.addCleanup(func() error {
		components.Logger.Info("closing cache")
		return components.Cache.Close()
	})
	return nil
}

// MustSetup is like Setup but panics on error
// Useful for commands that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
