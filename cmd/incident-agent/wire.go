package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/akhi19-dev/incident-agent/internal/cache"
	"github.com/akhi19-dev/incident-agent/internal/config"
	"github.com/akhi19-dev/incident-agent/internal/engine"
	"github.com/akhi19-dev/incident-agent/internal/llm"
	"github.com/akhi19-dev/incident-agent/internal/repo"
	"github.com/akhi19-dev/incident-agent/internal/services"
)

// app holds every long-lived dependency. main owns its lifetime.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *sql.DB
	cache cache.Provider

	runbooks   *repo.RunbookStore
	incidents  *repo.IncidentStore
	vectors    *repo.WeaviateIndex
	automation *repo.AutomationClient
	monitor    *repo.MonitorClient
	serviceNow *repo.ServiceNowClient

	embedder   llm.Embedder
	structured *llm.StructuredClient

	registry     *engine.ParamRegistry
	orchestrator *engine.Orchestrator
	pipeline     *engine.Pipeline
	indexer      *engine.Indexer
	logs         *engine.LogAnalyzer

	source    *services.RunbookSourceService
	incidentS *services.IncidentService
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := repo.OpenPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := repo.Migrate(ctx, db); err != nil {
		return nil, err
	}
	a.runbooks = repo.NewRunbookStore(db)
	a.incidents = repo.NewIncidentStore(db)

	a.vectors, err = repo.NewWeaviateIndex(cfg.Weaviate.Endpoint, cfg.Weaviate.APIKey, cfg.Weaviate.ClassName, cfg.Weaviate.Timeout, logger)
	if err != nil {
		return nil, err
	}
	if err := a.vectors.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	cred, err := newCredential(cfg.Azure, logger)
	if err != nil {
		return nil, err
	}
	armOptions, err := repo.ARMOptions(cfg.Azure.ManagementURL, 0, nil)
	if err != nil {
		return nil, err
	}
	a.automation, err = repo.NewAutomationClient(cfg.Azure.SubscriptionID, cfg.Azure.ResourceGroup, cfg.Azure.AutomationAccount, cred, armOptions)
	if err != nil {
		return nil, err
	}
	a.monitor, err = repo.NewMonitorClient(cfg.Azure.SubscriptionID, cfg.Azure.ResourceGroup, cred, armOptions)
	if err != nil {
		return nil, err
	}
	a.serviceNow = repo.NewServiceNowClient(cfg.ServiceNow.InstanceURL, cfg.ServiceNow.Username, cfg.ServiceNow.Password, cfg.ServiceNow.Timeout)

	a.cache = newCache(cfg.Cache, logger)
	policy := llm.PolicyFromConfig(cfg.LLM)

	completer, err := llm.NewCompleter(llm.Kind(cfg.LLM.CompletionProvider), cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	rawEmbedder, err := llm.NewEmbedder(llm.Kind(cfg.LLM.EmbeddingProvider), cfg.LLM, cfg.AWS, logger)
	if err != nil {
		return nil, err
	}
	a.embedder = llm.NewCachedEmbedder(
		llm.NewRetryingEmbedder(rawEmbedder, policy, logger),
		a.cache,
		fmt.Sprintf("%s:%d", cfg.LLM.EmbeddingProvider, cfg.LLM.EmbeddingDimensions),
		cfg.Cache.EmbeddingTTL,
		logger,
	)
	a.structured = llm.NewStructuredClient(completer, policy, logger)

	a.registry = engine.NewParamRegistry(cfg.Azure, cfg.AWS)
	a.orchestrator = engine.NewOrchestrator(logger, a.automation, cfg.Executor.PollInterval, cfg.Executor.MaxWait)
	a.pipeline = engine.NewPipeline(logger, a.embedder, a.vectors, a.runbooks, a.structured, a.registry, a.orchestrator, cfg.Weaviate.TopK)
	a.indexer = engine.NewIndexer(logger, a.automation, a.runbooks, a.vectors, a.embedder, a.structured, a.registry, cfg.Indexer.Interval)
	if len(cfg.Logs.AllowedHosts) > 0 {
		a.logs = engine.NewLogAnalyzer(logger, a.structured, cfg.Logs.ChunkLines, cfg.Logs.Timeout, cfg.Logs.AllowedHosts)
	} else {
		logger.Info("log analysis disabled, no allowed log hosts configured")
	}

	a.source = services.NewRunbookSourceService(logger, a.runbooks, a.vectors, a.automation, a.monitor, cfg.Azure.WebhookEndpointURL)
	a.incidentS = services.NewIncidentService(
		logger,
		a.incidents,
		a.serviceNow,
		a.pipeline,
		services.RunbookLinker{
			TenantDomain:   cfg.Azure.PortalDomain,
			SubscriptionID: cfg.Azure.SubscriptionID,
			ResourceGroup:  cfg.Azure.ResourceGroup,
			Account:        cfg.Azure.AutomationAccount,
		},
		a.serviceNow.InstanceURL(),
	)

	ok = true
	return a, nil
}

// newCredential uses the service principal when one is configured. Without one a static
// token is sent, which only a local mock management endpoint accepts.
func newCredential(cfg config.AzureConfig, logger *slog.Logger) (azcore.TokenCredential, error) {
	if cfg.TenantID == "" && cfg.ClientID == "" && cfg.ClientSecret == "" {
		logger.Warn("no azure service principal configured, sending a static management token",
			slog.String("management_url", cfg.ManagementURL))
		return repo.StaticToken("localdev"), nil
	}
	return repo.NewCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret)
}

func newCache(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled || cfg.Addr == "" {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
		return cache.NewMemoryProvider()
	}
	return provider
}

// syncSource records runbooks already in the account and, when enabled, registers the change alerts.
func (a *app) syncSource(ctx context.Context) error {
	added, err := a.source.SyncExistingRunbooks(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("existing runbooks synced", slog.Int("added", added))
	if !a.cfg.Azure.RegisterAlerts {
		return nil
	}
	return a.source.RegisterAlerts(ctx)
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", slog.Any("error", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", slog.Any("error", err))
		}
	}
}
