package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/common/cache"
	"github.com/lyzr/flowdeploy/common/clients"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/logger"
)

// FlowAPI is the part of the flow service REST API the deployer writes through
type FlowAPI interface {
	ListProjects(ctx context.Context) ([]clients.Project, error)
	CreateProject(ctx context.Context, name string) (*clients.Project, error)
	CreateFlow(ctx context.Context, flow clients.FlowCreate) (*clients.CreatedFlow, error)
}

// Environments resolves the per-environment collaborators of a session
type Environments interface {
	Live(ctx context.Context, env environment.Environment) (repository.LiveStore, error)
	API(env environment.Environment) (FlowAPI, error)
	Username(env environment.Environment) (string, error)
	ConfigTable(ctx context.Context, env environment.Environment) (*repository.ConfigTableRepository, error)
}

// Session is the explicit per-request context handed to every engine call.
// It caches the resolved user id of each environment.
type Session struct {
	Operator string

	envs    Environments
	cache   cache.Cache
	userTTL time.Duration
	log     *logger.Logger

	mu      sync.Mutex
	userIDs map[environment.Environment]string
}

// NewSession creates a session for operator; c may be nil
func NewSession(operator string, envs Environments, c cache.Cache, userTTL time.Duration, log *logger.Logger) *Session {
	return &Session{
		Operator: operator,
		envs:     envs,
		cache:    c,
		userTTL:  userTTL,
		log:      log,
		userIDs:  make(map[environment.Environment]string),
	}
}

// Live returns the live flow store of env
func (s *Session) Live(ctx context.Context, env environment.Environment) (repository.LiveStore, error) {
	return s.envs.Live(ctx, env)
}

// API returns the flow service client of env
func (s *Session) API(env environment.Environment) (FlowAPI, error) {
	return s.envs.API(env)
}

// ConfigTable returns the langflow_config repository of env
func (s *Session) ConfigTable(ctx context.Context, env environment.Environment) (*repository.ConfigTableRepository, error) {
	return s.envs.ConfigTable(ctx, env)
}

// UserID resolves the deployer account's user id in env
func (s *Session) UserID(ctx context.Context, env environment.Environment) (string, error) {
	s.mu.Lock()
	if id, ok := s.userIDs[env]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	username, err := s.envs.Username(env)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("user:%s:%s", env, username)
	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			s.remember(env, string(v))
			return string(v), nil
		}
	}

	live, err := s.envs.Live(ctx, env)
	if err != nil {
		return "", err
	}
	id, err := live.UserID(ctx, username)
	if err != nil {
		return "", fmt.Errorf("resolve user in %s: %w", env, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, []byte(id), s.userTTL); err != nil {
			s.log.Warn("failed to cache user id", "env", env, "key", key, "error", err)
		}
	}
	s.remember(env, id)
	return id, nil
}

func (s *Session) remember(env environment.Environment, id string) {
	s.mu.Lock()
	s.userIDs[env] = id
	s.mu.Unlock()
}
