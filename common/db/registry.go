package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lyzr/flowdeploy/common/config"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

// Role names what a store holds within an environment
type Role string

const (
	// RoleFlow is the flow service's own Postgres database
	RoleFlow Role = "flow"
	// RoleConfig is the MySQL database holding langflow_config
	RoleConfig Role = "config"
	// RolePrompt is the prompt-management Postgres database (environment-independent)
	RolePrompt Role = "prompt"
)

// Key identifies one store in the registry
type Key struct {
	Env  environment.Environment
	Role Role
}

func (k Key) String() string {
	if k.Env == "" {
		return string(k.Role)
	}
	return fmt.Sprintf("%s/%s", k.Env, k.Role)
}

// Opener connects the store for a key
type Opener func(ctx context.Context, key Key) (Store, error)

// Registry lazily opens and owns one Store per (environment, role)
type Registry struct {
	mu     sync.Mutex
	opener Opener
	stores map[Key]Store
	log    *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(opener Opener, log *logger.Logger) *Registry {
	return &Registry{
		opener: opener,
		stores: make(map[Key]Store),
		log:    log,
	}
}

// Get returns the store for (env, role), opening it on first use
func (r *Registry) Get(ctx context.Context, env environment.Environment, role Role) (Store, error) {
	if role == RolePrompt {
		env = ""
	}
	key := Key{Env: env, Role: role}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[key]; ok {
		return s, nil
	}

	if r.opener == nil {
		return nil, fmt.Errorf("no store registered for %s", key)
	}

	s, err := r.opener(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", key, err)
	}

	r.log.Info("store opened", "key", key.String())
	r.stores[key] = s
	return s, nil
}

// Register installs an already opened store under key
func (r *Registry) Register(key Key, s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[key] = s
}

// Health pings every opened store
func (r *Registry) Health(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, s := range r.stores {
		if err := s.Health(ctx); err != nil {
			return fmt.Errorf("%s unhealthy: %w", key, err)
		}
	}
	return nil
}

// Close closes every opened store
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, s := range r.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
		delete(r.stores, key)
	}
	return errors.Join(errs...)
}

// ConfigOpener opens stores from the per-environment configuration
func ConfigOpener(cfg *config.Config, log *logger.Logger) Opener {
	return func(ctx context.Context, key Key) (Store, error) {
		if key.Role == RolePrompt {
			return New(ctx, cfg.Prompts.DB, log)
		}

		envCfg, err := cfg.Environment(key.Env)
		if err != nil {
			return nil, err
		}

		switch key.Role {
		case RoleFlow:
			return New(ctx, envCfg.FlowDB, log)
		case RoleConfig:
			if envCfg.ConfigDB.Host == "" {
				return nil, fmt.Errorf("environment %s has no config_db", key.Env)
			}
			return OpenSQL(ctx, envCfg.ConfigDB.Driver, envCfg.ConfigDB.MySQLDSN(), log)
		default:
			return nil, fmt.Errorf("unknown store role: %s", key.Role)
		}
	}
}
