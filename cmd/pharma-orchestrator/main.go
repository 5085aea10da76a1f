package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pharma-orchestrator/internal/agents"
	"pharma-orchestrator/internal/api"
	"pharma-orchestrator/internal/common/aws"
	"pharma-orchestrator/internal/common/camunda"
	"pharma-orchestrator/internal/common/config"
	"pharma-orchestrator/internal/common/database"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/observability"
	"pharma-orchestrator/internal/datastore"
	"pharma-orchestrator/internal/guardrails"
	"pharma-orchestrator/internal/intent"
	"pharma-orchestrator/internal/jobs"
	"pharma-orchestrator/internal/llm"
	"pharma-orchestrator/internal/orchestrator"
	"pharma-orchestrator/internal/ratelimit"
	"pharma-orchestrator/internal/search"
	"pharma-orchestrator/internal/session"
	processquery "pharma-orchestrator/internal/workers/pharma-intelligence/process-query"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	var outputs []string
	if cfg.Logging.Output != "" {
		outputs = append(outputs, cfg.Logging.Output)
	}
	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, outputs...)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting pharma orchestrator...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(observability.Config{
		ServiceName:    cfg.App.Name,
		TracingEnabled: cfg.Tracing.Enabled,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
	})
	if err != nil {
		zapLog.Warn("observability partially initialized", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Redis (required) ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- PostgreSQL (optional) ---
	var pgStore *datastore.PostgresStore
	if cfg.Database.Postgres.Enabled() {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 5, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Warn("postgres unavailable, datasets fall back to the data API and web search", zap.Error(err))
		} else {
			defer pg.Close()
			pgStore = datastore.NewPostgresStore(pg.DB)
			zapLog.Info("PostgreSQL connected successfully")
		}
	}

	// --- Elasticsearch (optional) ---
	var docs *datastore.ElasticDocs
	if cfg.Database.Elasticsearch.GetURL() != "" {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 5, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, internal docs come from postgres only", zap.Error(err))
		} else {
			docs = datastore.NewElasticDocs(esClient.Client, cfg.Database.Elasticsearch.DocsIndex)
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	// --- Quotas and outbound APIs ---
	limiter := ratelimit.NewLimiter(
		ratelimit.NewRedisStore(rdb.Client),
		ratelimit.LimitsFromConfig(cfg.RateLimits),
		log,
	)
	chat := llm.NewGateway(llm.NewClient(llm.LoadConfig(cfg.APIs.LLM), log), limiter)
	web := search.NewGateway(search.NewClient(search.LoadConfig(cfg.APIs.WebSearch), log), limiter)

	repo := datastore.NewRepository(
		pgStore,
		datastore.NewHTTPSource(cfg.APIs.DataSources, rdb.Client, log),
		docs,
		log,
	)

	// --- Query pipeline ---
	extractor := intent.NewExtractor(intent.DefaultVocabulary())
	agentCfg := agents.DefaultConfig()
	if cfg.Orchestrator.GeneralMaxTokens > 0 {
		agentCfg.GeneralMaxTokens = cfg.Orchestrator.GeneralMaxTokens
	}
	if cfg.Orchestrator.WebResults > 0 {
		agentCfg.WebResults = cfg.Orchestrator.WebResults
	}
	executor := agents.NewExecutor(agents.WebBackedStore(repo, web), chat, web, extractor, agentCfg, log)

	classifier := intent.NewClassifier(chat, extractor, cfg.Orchestrator.LLMThreshold, log)

	guard := guardrails.New(guardrails.Config{
		MinLength: cfg.Guardrails.MinLength,
		MaxLength: cfg.Guardrails.MaxLength,
	})

	orch := orchestrator.New(guard, classifier, executor, chat, orchestrator.ConfigFrom(cfg.Orchestrator), log,
		orchestrator.WithTracer(obs.Tracer()),
		orchestrator.WithRecorder(obs),
	)

	// --- Jobs ---
	jobOpts := []jobs.Option{jobs.WithTimeout(time.Duration(cfg.Jobs.Timeout) * time.Millisecond)}
	if cfg.Integrations.AWS.SNS.Enabled {
		sns, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.SNS.TopicARN)
		if err != nil {
			zapLog.Warn("sns unavailable, job events are not published", zap.Error(err))
		} else {
			jobOpts = append(jobOpts, jobs.WithEvents(sns))
			zapLog.Info("SNS job events enabled", zap.String("topic", cfg.Integrations.AWS.SNS.TopicARN))
		}
	}
	jobService := jobs.NewService(
		jobs.NewRedisStore(rdb.Client, time.Duration(cfg.Jobs.TTL)*time.Second),
		orch, log, jobOpts...,
	)

	// --- Zeebe (optional) ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				ConnectionTimeout:      time.Duration(cfg.Camunda.Timeout) * time.Millisecond,
				RequestTimeout:         time.Duration(cfg.Camunda.RequestTimeout) * time.Millisecond,
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Warn("zeebe unavailable, jobs run in-process", zap.Error(err))
			zeebe = nil
		} else {
			defer zeebe.Close()
			zapLog.Info("Zeebe client connected successfully")
		}
	}

	var local *jobs.LocalDispatcher
	if zeebe != nil && cfg.Jobs.Dispatcher == "zeebe" {
		jobService.SetDispatcher(jobs.NewZeebeDispatcher(zeebe, cfg.Jobs.ProcessID, log))
	} else {
		local = jobs.NewLocalDispatcher(jobService.Run, cfg.Jobs.PoolSize, log)
		jobService.SetDispatcher(local)
	}

	var queryWorker *camunda.CamundaWorker
	if zeebe != nil {
		wcfg := processquery.LoadConfig(cfg.Workers)
		if wc, ok := cfg.Workers[processquery.TaskType]; !ok || wc.Enabled {
			handler := processquery.NewHandler(wcfg, jobService, orch, log)
			queryWorker = camunda.NewWorker(zeebe.GetClient(), processquery.TaskType, wcfg.MaxJobsActive, handler, log)
		}
	}

	// --- HTTP API ---
	checks := map[string]api.ReadinessCheck{"redis": rdb.Ping}
	if zeebe != nil {
		checks["zeebe"] = zeebe.HealthCheck
	}
	handler := api.NewHandler(api.Deps{
		Queries:  orch,
		Jobs:     jobService,
		Usage:    limiter,
		Sessions: session.NewManager(session.NewRedisStore(rdb.Client), time.Duration(cfg.Sessions.TTL)*time.Second, log),
		AdminKey: cfg.Sessions.AdminKey,
		Checks:   checks,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Millisecond,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zapLog.Info("Shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Millisecond)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if queryWorker != nil {
		queryWorker.Stop(shutdownCtx)
	}
	if local != nil {
		local.Close(shutdownCtx)
	}

	zapLog.Info("Pharma orchestrator stopped")
}
