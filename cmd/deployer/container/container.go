package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/flowdeploy/cmd/deployer/repository"
	"github.com/lyzr/flowdeploy/cmd/deployer/service"
	"github.com/lyzr/flowdeploy/common/bootstrap"
	"github.com/lyzr/flowdeploy/common/clients"
	"github.com/lyzr/flowdeploy/common/db"
	"github.com/lyzr/flowdeploy/common/environment"
	"github.com/lyzr/flowdeploy/common/nodematch"
	"github.com/lyzr/flowdeploy/common/ratelimit"
	"github.com/lyzr/flowdeploy/common/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	Metrics    *telemetry.Metrics
	Limiter    ratelimit.Limiter

	// Repositories
	HistoryRepo *repository.HistoryRepository

	// Clients
	Prompts *clients.PromptClient

	// Services
	Versions    *service.VersionAllocator
	PromptsBak  *service.PromptBackupService
	Promotion   *service.PromotionService
	Rollback    *service.RollbackService
	Refresher   *service.RefresherService
	Labels      *service.LabelService
	PromptLabel *service.PromptLabelService
	ConfigSync  *service.ConfigSyncService
	Catalog     *service.CatalogService

	mu        sync.Mutex
	langflows map[environment.Environment]*clients.LangflowClient
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	if components.History == nil {
		return nil, fmt.Errorf("history store is required")
	}

	cfg := components.Config
	log := components.Logger

	var metrics *telemetry.Metrics
	if components.Telemetry != nil {
		metrics = components.Telemetry.Metrics
	} else {
		metrics = telemetry.NewMetrics(prometheus.NewRegistry())
	}

	matcher, err := nodematch.New(cfg.Promotion.NodeRules)
	if err != nil {
		return nil, fmt.Errorf("failed to compile node rules: %w", err)
	}

	promptClient := clients.NewPromptClient(clients.PromptOptions{
		BaseURL:   cfg.Prompts.URL,
		PublicKey: cfg.Prompts.PublicKey,
		SecretKey: cfg.Prompts.SecretKey,
		PageSize:  cfg.Prompts.PageSize,
		Timeout:   cfg.Prompts.Timeout,
		Recorder:  metrics,
	}, log)

	var labelSource service.PromptLabelSource = promptClient
	if cfg.Prompts.Source == "db" {
		labelSource = &promptStore{stores: components.Stores, projectID: cfg.Prompts.ProjectID}
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(log)
	if components.Redis != nil {
		limiter = ratelimit.NewRedisLimiter(components.Redis.GetUnderlying(), log)
	}

	// Initialize repositories
	historyRepo := repository.NewHistoryRepository(components.History)

	// Initialize services (bottom-up: dependencies first)
	versions := service.NewVersionAllocator(historyRepo, time.Now, log)
	promptsBak := service.NewPromptBackupService(historyRepo, labelSource, log)
	patcher := service.NewPayloadPatcher(matcher)
	promotion := service.NewPromotionService(
		versions,
		promptsBak,
		historyRepo,
		patcher,
		service.PromotionOptions{
			BackupFolder: cfg.Promotion.BackupFolder,
			Metrics:      metrics,
		},
		log,
	)
	refresher := service.NewRefresherService(matcher, cfg.Promotion.PublishSuffix, log)
	rollback := service.NewRollbackService(historyRepo, refresher, metrics, log)

	return &Container{
		Components:  components,
		Metrics:     metrics,
		Limiter:     limiter,
		HistoryRepo: historyRepo,
		Prompts:     promptClient,
		Versions:    versions,
		PromptsBak:  promptsBak,
		Promotion:   promotion,
		Rollback:    rollback,
		Refresher:   refresher,
		Labels:      service.NewLabelService(matcher, cfg.Promotion.PublishSuffix, log),
		PromptLabel: service.NewPromptLabelService(promptClient, log),
		ConfigSync:  service.NewConfigSyncService(time.Now, log),
		Catalog:     service.NewCatalogService(historyRepo, cfg.Promotion.PublishSuffix, log),
		langflows:   make(map[environment.Environment]*clients.LangflowClient),
	}, nil
}

// Session builds the per-request session of operator
func (c *Container) Session(operator string) *service.Session {
	return service.NewSession(operator, c, c.Components.Cache, c.Components.Config.Cache.UserTTL, c.Components.Logger)
}

// Live implements service.Environments
func (c *Container) Live(ctx context.Context, env environment.Environment) (repository.LiveStore, error) {
	store, err := c.Components.Stores.Get(ctx, env, db.RoleFlow)
	if err != nil {
		return nil, err
	}
	return repository.NewLiveStore(store), nil
}

// ConfigTable implements service.Environments
func (c *Container) ConfigTable(ctx context.Context, env environment.Environment) (*repository.ConfigTableRepository, error) {
	store, err := c.Components.Stores.Get(ctx, env, db.RoleConfig)
	if err != nil {
		return nil, err
	}
	return repository.NewConfigTableRepository(store), nil
}

// API implements service.Environments; one client per environment shares the token cache
func (c *Container) API(env environment.Environment) (service.FlowAPI, error) {
	client, err := c.langflow(env)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Username implements service.Environments
func (c *Container) Username(env environment.Environment) (string, error) {
	envCfg, err := c.Components.Config.Environment(env)
	if err != nil {
		return "", err
	}
	return envCfg.Langflow.Username, nil
}

func (c *Container) langflow(env environment.Environment) (*clients.LangflowClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.langflows[env]; ok {
		return client, nil
	}

	envCfg, err := c.Components.Config.Environment(env)
	if err != nil {
		return nil, err
	}
	if envCfg.Langflow.URL == "" {
		return nil, fmt.Errorf("environment %s has no langflow url", env)
	}

	client := clients.NewLangflowClient(clients.LangflowOptions{
		BaseURL:  envCfg.Langflow.URL,
		Username: envCfg.Langflow.Username,
		Password: envCfg.Langflow.Password,
		Timeout:  envCfg.Langflow.Timeout,
		Cache:    c.Components.Cache,
		TokenTTL: c.Components.Config.Cache.TokenTTL,
		Recorder: c.Metrics,
	}, c.Components.Logger.WithEnv(env.String()))

	c.langflows[env] = client
	return client, nil
}

// promptStore opens the prompt database on first use
type promptStore struct {
	stores    *db.Registry
	projectID string
}

func (p *promptStore) LabelVersions(ctx context.Context, label string) (map[string]int, error) {
	store, err := p.stores.Get(ctx, "", db.RolePrompt)
	if err != nil {
		return nil, err
	}
	return repository.NewPromptLabelRepository(store, p.projectID).LabelVersions(ctx, label)
}
