/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Worker entry point: config → logger → migrations → db pool
             → redis → collaborator clients → coordinator → worker pool
             → HTTP status surface, with OS-signal graceful shutdown.
Root Cause:  Sprint task Q032 — worker process entry point.
Context:     Standard service boot order: config, logger, migrations,
             database, redis, collaborator clients, background worker
             pool, router, HTTP server, signal-driven graceful shutdown.
Suitability: L3 model for process wiring and lifecycle management.
──────────────────────────────────────────────────────────────
*/

package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chromedp/chromedp"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cotaai/quotepipe/internal/batch"
	"github.com/cotaai/quotepipe/internal/checkpoint"
	"github.com/cotaai/quotepipe/internal/concurrency"
	"github.com/cotaai/quotepipe/internal/config"
	"github.com/cotaai/quotepipe/internal/coordinator"
	"github.com/cotaai/quotepipe/internal/dbconn"
	"github.com/cotaai/quotepipe/internal/extractor"
	"github.com/cotaai/quotepipe/internal/httppool"
	"github.com/cotaai/quotepipe/internal/ledger"
	"github.com/cotaai/quotepipe/internal/llm"
	"github.com/cotaai/quotepipe/internal/logger"
	"github.com/cotaai/quotepipe/internal/metrics"
	"github.com/cotaai/quotepipe/internal/policy"
	"github.com/cotaai/quotepipe/internal/redisclient"
	"github.com/cotaai/quotepipe/internal/shopping"
	"github.com/cotaai/quotepipe/internal/store"
	"github.com/cotaai/quotepipe/internal/store/migrations"
	"github.com/cotaai/quotepipe/internal/vehicle"
	"github.com/cotaai/quotepipe/internal/worker"

	apihttp "github.com/cotaai/quotepipe/internal/api"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("quotepipe worker starting")

	ctx := context.Background()

	if err := runMigrations(cfg); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	pool, err := dbconn.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	var rdb *redisclient.Client
	rdb, err = redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — continuing without distributed rate limiting")
		rdb = nil
	} else {
		defer rdb.Close()
		log.Info().Msg("redis connected")
	}

	requests := store.NewQuoteRequestStore(pool)
	sources := store.NewQuoteSourceStore(pool)
	configs := store.NewConfigVersionStore(pool)
	blockedDomains := store.NewBlockedDomainStore(pool)
	files := store.NewFileStore(pool)
	batchJobs := store.NewBatchJobStore(pool)
	vehicleBank := store.NewVehicleBankStore(pool)
	ledgerStore := store.NewLedgerStore(pool)

	m := metrics.New()

	httpPool := httppool.New(httppool.DefaultConfig())

	primary := llm.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, httpPool, cfg.LLMProviderTimeout("anthropic"))
	secondary := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, httpPool, cfg.LLMProviderTimeout("openai"))
	llmClient := llm.NewClient(primary, secondary)

	isBlocked, mapSource, err := buildDomainFilters(ctx, blockedDomains)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load blocked domain list")
	}

	shoppingClient := shopping.NewClient(shopping.Config{
		BaseURL:  cfg.AggregatorBaseURL,
		APIKey:   cfg.AggregatorAPIKey,
		Location: cfg.AggregatorLocation,
		Locale:   cfg.AggregatorLocale,
		Country:  cfg.AggregatorCountry,
		Timeout:  cfg.AggregatorTimeout,
	}, httpPool, isBlocked, mapSource)

	extr := extractor.New(cfg.ExtractorPoolSize, cfg.ExtractorNavTimeout, cfg.ScreenshotStoragePath)
	defer extr.Close()

	policyEngine, err := policy.NewEngine(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compile domain gate policy")
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	fipeClient := vehicle.NewFipeClient(cfg.FipeBaseURL, httpPool, cfg.RequestWallClock)
	shot := vehicle.NewChromedpCapturer(allocCtx, cfg.FipeBaseURL, cfg.ExtractorNavTimeout, cfg.ScreenshotStoragePath)
	screenshotPersister := coordinator.MakeScreenshotPersister(files)
	vehicleResolver := vehicle.NewResolver(vehicleBank, fipeClient, shot, cfg.FipeVigencyWindow, screenshotPersister)

	costLedger := ledger.New(ledgerStore).WithMetrics(m)

	checkpoints := checkpoint.NewManager(requests, cfg.ClaimLiveness)
	claims := concurrency.NewKeyedMutex()

	workerID := workerIdentity()

	coord := coordinator.New(coordinator.Deps{
		Requests:       requests,
		Sources:        sources,
		Configs:        configs,
		BlockedDomains: blockedDomains,
		Files:          files,
		Batches:        batchJobs,

		Checkpoints: checkpoints,
		Claims:      claims,

		LLM:       llmClient,
		Shopping:  shoppingClient,
		Extractor: extr,
		Policy:    policyEngine,
		Vehicle:   vehicleResolver,
		Ledger:    costLedger,
		Metrics:   m,

		WorkerID:         workerID,
		RequestWallClock: cfg.RequestWallClock,

		LLMBRLPerInputToken:  cfg.LLMBRLPerInputToken,
		LLMBRLPerOutputToken: cfg.LLMBRLPerOutputToken,
		AggregatorBRLPerCall: cfg.AggregatorBRLPerCall,

		Log: log,
	})

	_ = batch.New(batchJobs, requests, log) // batch submission is driven by the HTTP surface of a separate admin service; wired here so a future /v1/batches endpoint has its dependency ready

	workerPool := worker.New(requests, coord, cfg.WorkerPoolSize, cfg.PollInterval, cfg.ClaimLiveness, log)
	workerPool.Start(ctx)

	api := apihttp.New(requests, m, log)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.Router(rdb, 120),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("worker status surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("status server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	workerPool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("worker stopped gracefully")
	}
}

// runMigrations opens a stdlib *sql.DB over the pgx driver for goose's
// one-shot migration run, then closes it; the long-lived pgxpool.Pool is
// created separately for the worker's own queries.
func runMigrations(cfg *config.Config) error {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.Run(db)
}

// buildDomainFilters loads the blocked-domain list once at boot and
// returns the two closures shopping.NewClient needs. This is a coarse,
// boot-time pre-filter at the aggregator layer; the Rego policy engine
// (internal/policy) still re-validates every candidate URL per request
// against the freshly reloaded list (coordinator.loadDomainPolicy).
func buildDomainFilters(ctx context.Context, blockedDomains *store.BlockedDomainStore) (func(string) bool, shopping.BlockedSourceMapper, error) {
	domains, err := blockedDomains.LoadAll(ctx)
	if err != nil {
		return nil, nil, err
	}

	blockedSet := make(map[string]bool, len(domains))
	sourceToDomain := make(map[string]string, len(domains))
	for _, d := range domains {
		blockedSet[strings.ToLower(d.Domain)] = true
		if d.SourceName != "" {
			sourceToDomain[strings.ToLower(d.SourceName)] = d.Domain
		}
	}

	isBlocked := func(domain string) bool {
		return blockedSet[strings.ToLower(domain)]
	}
	mapSource := func(source string) string {
		return sourceToDomain[strings.ToLower(source)]
	}
	return isBlocked, mapSource, nil
}

// workerIdentity derives a stable-enough id for the claim protocol's
// worker_id column: hostname plus pid, unique per process without needing
// a coordination service.
func workerIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
