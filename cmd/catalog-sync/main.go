package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/catalog-sync/internal/api"
	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/config"
	"github.com/maltedev/catalog-sync/internal/crawler"
	"github.com/maltedev/catalog-sync/internal/database"
	"github.com/maltedev/catalog-sync/internal/enrich"
	"github.com/maltedev/catalog-sync/internal/events"
	"github.com/maltedev/catalog-sync/internal/logging"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/parser"
	"github.com/maltedev/catalog-sync/internal/pipeline"
	"github.com/maltedev/catalog-sync/internal/reconcile"
	"github.com/maltedev/catalog-sync/internal/runs"
	"github.com/maltedev/catalog-sync/internal/snapshot"
)

const modeServe = "serve"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	mode := flag.String("mode", string(runs.ModeAll), "crawl, enrich, events, all or serve")
	snapshotPath := flag.String("snapshot", cfg.Snapshot.Path, "snapshot file of the latest crawl")
	dryRun := flag.Bool("dry-run", false, "reconcile in memory and report enrichment without writing")
	headless := flag.Bool("headless", cfg.Browser.Headless, "run the browser headless")
	flag.Parse()

	cfg.Snapshot.Path = *snapshotPath
	cfg.Browser.Headless = *headless

	logger := logging.New(os.Stdout, cfg.Logging.Format, cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mode, *dryRun, logger); err != nil {
		logger.Error("catalog sync failed", "mode", *mode, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, mode string, dryRun bool, logger *slog.Logger) error {
	m := metrics.New(prometheus.NewRegistry())
	snapshots := snapshot.NewStore(cfg.Snapshot.Path)

	backend, err := openBackend(ctx, cfg, snapshots, dryRun, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	provider, err := enrich.NewProvider(enrich.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey,
		APIURL:     cfg.LLM.APIURL,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
	})
	if err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" {
		logger.Warn("no LLM API key configured", "provider", cfg.LLM.Provider)
	}

	p := pipeline.New(newCrawler(cfg, snapshots, m, logger), backend.store, provider, pipelineOptions(cfg, provider, dryRun, backend.durable), m, logger)

	if mode == modeServe {
		return serve(ctx, cfg, p, backend, m, logger)
	}

	runMode, err := runs.ParseMode(mode)
	if err != nil {
		return fmt.Errorf("%w: %q", err, mode)
	}

	runID := uuid.New().String()
	logger.Info("pipeline started", "run_id", runID, "mode", runMode, "dry_run", dryRun, "provider", provider.Name())

	start := time.Now()
	outcome, err := p.Execute(ctx, runID, runMode)
	if err != nil {
		return err
	}

	logger.Info("pipeline finished",
		"run_id", runID,
		"products", outcome.Products,
		"categories", outcome.Categories,
		"promotions", outcome.Promotions,
		"faults", outcome.Faults,
		"changes", outcome.Changes,
		"duration", time.Since(start))
	return nil
}

// backend bundles the stores a process works against.
type backend struct {
	store   pipeline.Store
	changes api.ChangeLister
	runs    runs.Repository
	relay   *database.Relay
	durable bool
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects PostgreSQL and Redis when configured. Dry runs and
// processes without a database reconcile against the snapshot file in
// memory; such a catalog is lost on exit.
func openBackend(ctx context.Context, cfg *config.Config, snapshots *snapshot.Store, dryRun bool, logger *slog.Logger) (*backend, error) {
	if dryRun || !cfg.Database.Enabled() {
		previous, err := snapshots.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
		store := reconcile.NewMemoryStore(reconcile.RowsFromSnapshot(previous))
		logger.Info("using in-memory catalog", "rows", len(previous), "snapshot", snapshots.Path(), "dry_run", dryRun)
		if !dryRun {
			logger.Warn("no database configured, enrichment and event sync will be skipped")
		}
		return &backend{store: store, changes: store, runs: runs.NewMemoryRepository()}, nil
	}

	db, err := database.New(ctx, database.Config{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	b := &backend{durable: true, closers: []func(){db.Close}}

	if err := db.Migrate(ctx); err != nil {
		b.Close()
		return nil, err
	}

	outbox := database.NewOutboxRepository(db)
	publisher := events.NewPublisher(outbox, cfg.Redis.Stream, logger)
	catalog := database.NewCatalogRepository(db, publisher, logger)

	b.store = catalog
	b.changes = catalog
	b.runs = database.NewRunRepository(db)

	if cfg.Redis.Addr == "" {
		logger.Warn("no redis configured, change events stay in the outbox")
		return b, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b.closers = append(b.closers, func() { _ = redisClient.Close() })

	if err := redisClient.Ping(ctx).Err(); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	b.relay = database.NewRelay(outbox, redisClient, logger, database.RelayConfig{
		PollInterval: cfg.Redis.PollInterval,
		BatchSize:    cfg.Redis.BatchSize,
	})

	relayCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := b.relay.Start(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("relay stopped with error", "error", err)
		}
	}()
	b.closers = append(b.closers, func() {
		cancel()
		<-done
	})

	return b, nil
}

func newCrawler(cfg *config.Config, snapshots *snapshot.Store, m *metrics.Metrics, logger *slog.Logger) *crawler.Orchestrator {
	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.Timeout = cfg.Browser.Timeout
	browserOpts.ProxyServer = cfg.Browser.ProxyServer
	if cfg.Browser.UserAgent != "" {
		browserOpts.UserAgent = cfg.Browser.UserAgent
	}

	navOpts := browser.DefaultNavigatorOptions()
	navOpts.NavigationTimeout = cfg.Crawler.NavigationTimeout
	navOpts.MaxRetries = cfg.Crawler.MaxRetries
	navOpts.RetryDelay = cfg.Crawler.RetryDelay

	crawlOpts := crawler.DefaultOptions()
	crawlOpts.CategoryConcurrency = cfg.Crawler.CategoryConcurrency
	crawlOpts.PromotionConcurrency = cfg.Crawler.PromotionConcurrency
	crawlOpts.CardWait = cfg.Crawler.CardWait

	launch := func() (crawler.Browser, error) {
		b, err := browser.New(browserOpts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	return crawler.NewOrchestrator(
		launch,
		browser.NewNavigator(navOpts, logger),
		parser.NewExtractor(parser.DefaultSite()),
		snapshots,
		crawlOpts,
		m,
		logger,
	)
}

func pipelineOptions(cfg *config.Config, provider enrich.Provider, dryRun, durable bool) pipeline.Options {
	enrichOpts := enrich.DefaultOptions()
	enrichOpts.BatchSize = cfg.Enrichment.BatchSize
	enrichOpts.MaxRequests = cfg.Enrichment.MaxRequests
	enrichOpts.EventLabel = cfg.Enrichment.EventLabel
	enrichOpts.MinInterval = cfg.Enrichment.MinInterval
	if enrichOpts.MinInterval <= 0 {
		enrichOpts.MinInterval = enrich.MinInterval(provider.Name())
	}

	sinkOpts := reconcile.DefaultSinkOptions()
	sinkOpts.MaxAttempts = cfg.Crawler.SinkAttempts

	return pipeline.Options{
		Sink:   sinkOpts,
		Enrich: enrichOpts,
		Sync: enrich.SyncOptions{
			EventLabel: cfg.Enrichment.EventLabel,
			Cutoff:     cfg.Enrichment.FuzzyCutoff,
		},
		DryRun:    dryRun,
		Ephemeral: !durable,
	}
}

// serve exposes the run API and executes queued runs until ctx is done.
func serve(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, b *backend, m *metrics.Metrics, logger *slog.Logger) error {
	manager := runs.NewManager(b.runs, p, cfg.Server.WorkerInterval, logger)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		manager.StartWorker(workerCtx)
	}()

	var backlog api.BacklogReporter
	if b.relay != nil {
		backlog = b.relay
	}
	handlers := api.NewHandlers(manager, b.changes, backlog, logger)

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handlers, m, api.RouterConfig{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.WriteTimeout,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	stopWorker()
	<-workerDone

	logger.Info("server stopped")
	return nil
}
