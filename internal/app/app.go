// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswire-ingest/internal/clock/system"
	"github.com/JakeFAU/newswire-ingest/internal/config"
	"github.com/JakeFAU/newswire-ingest/internal/dedup"
	"github.com/JakeFAU/newswire-ingest/internal/fetch"
	"github.com/JakeFAU/newswire-ingest/internal/ingest"
	"github.com/JakeFAU/newswire-ingest/internal/logging"
	"github.com/JakeFAU/newswire-ingest/internal/progress"
	"github.com/JakeFAU/newswire-ingest/internal/progress/sinks"
	"github.com/JakeFAU/newswire-ingest/internal/ratelimit"
	"github.com/JakeFAU/newswire-ingest/internal/schedule"
	"github.com/JakeFAU/newswire-ingest/internal/source/rss"
	"github.com/JakeFAU/newswire-ingest/internal/storage/gcs"
	"github.com/JakeFAU/newswire-ingest/internal/storage/local"
	"github.com/JakeFAU/newswire-ingest/internal/storage/memory"
	"github.com/JakeFAU/newswire-ingest/internal/storage/postgres"
	"github.com/JakeFAU/newswire-ingest/internal/telemetry"
)

// App holds all the shared, long-lived services for the application. It is
// initialized once at startup and torn down by Close.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	runID    [16]byte

	hub     *progress.Hub
	fetcher *fetch.Fetcher
	limiter *ratelimit.Limiter
	tracker *dedup.Tracker
	store   ingest.Storage
	sources []ingest.Source
	sched   *schedule.Scheduler
	metrics *telemetry.MetricsServer

	closeStore   func()
	pubsubClient *pubsub.Client
}

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Tracker exposes the cross-run title tracker.
func (a *App) Tracker() *dedup.Tracker {
	return a.tracker
}

// New creates and wires every service from configuration. It fails fast if
// any critical collaborator cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		runID:    progress.NewRunID(),
	}
	a.registry.MustRegister(collectors.NewGoCollector())
	logger.Info("initializing application services",
		zap.String("run_id", a.runIDString()),
		zap.Int("sources", len(cfg.Sources)),
	)

	hubSinks, err := a.buildSinks(ctx)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, hubSinks...)
	clk := system.New()

	a.fetcher = fetch.NewFetcher(fetch.Config{
		Timeout:      cfg.FetchTimeout(),
		MaxRetries:   cfg.HTTP.MaxRetries,
		BackoffBase:  cfg.BackoffBase(),
		BackoffCap:   cfg.BackoffCap(),
		UserAgent:    cfg.HTTP.UserAgent,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, fetch.WithEmitter(a.hub, a.runID), fetch.WithClock(clk))

	a.limiter = ratelimit.New(ratelimit.Config{
		DefaultRate:  cfg.RateLimit.Rate,
		DefaultPer:   time.Duration(cfg.RateLimit.PerSeconds * float64(time.Second)),
		DefaultBurst: int(cfg.RateLimit.Burst),
	}, ratelimit.WithEmitter(a.hub, a.runID), ratelimit.WithClock(clk))
	for _, o := range cfg.RateLimit.Overrides {
		a.limiter.SetOverride(
			o.Domain,
			o.Rate,
			time.Duration(o.PerSeconds*float64(time.Second)),
			int(o.Burst),
		)
	}

	if err := a.buildStore(ctx); err != nil {
		return nil, err
	}

	records, err := a.store.LoadPriorRecords(ctx, cfg.Dedup.Scope)
	if err != nil {
		// Degrade to an empty tracker: a corrupt dedup snapshot must not
		// block ingestion.
		logger.Warn("loading prior title records failed; starting empty",
			zap.String("scope", cfg.Dedup.Scope),
			zap.Error(err),
		)
		records = nil
	}
	a.tracker = dedup.LoadFrom(records, dedup.WithClock(clk))
	logger.Info("dedup tracker seeded",
		zap.String("scope", cfg.Dedup.Scope),
		zap.Int("titles", a.tracker.Len()),
	)

	for _, srcCfg := range cfg.Sources {
		src, err := rss.New(srcCfg, a.fetcher, a.limiter, a.tracker, logger)
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", srcCfg.Name, err)
		}
		a.sources = append(a.sources, src)
	}

	a.sched = schedule.New(cfg.Scheduler.MaxConcurrency,
		schedule.WithLogger(logger),
		schedule.WithEmitter(a.hub, a.runID),
		schedule.WithClock(clk),
	)
	if cfg.Metrics.Enabled {
		a.metrics = telemetry.NewMetricsServer(cfg.Metrics.Port, a.registry, logger)
	}
	return a, nil
}

func (a *App) buildSinks(ctx context.Context) ([]progress.Sink, error) {
	out := []progress.Sink{sinks.NewLogSink(a.logger)}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	out = append(out, promSink)

	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		psSink, err := sinks.NewPubSubSink(client.Topic(a.cfg.PubSub.TopicName))
		if err != nil {
			return nil, fmt.Errorf("init pubsub sink: %w", err)
		}
		a.logger.Info("pubsub completions enabled", zap.String("topic", a.cfg.PubSub.TopicName))
		out = append(out, psSink)
	}
	return out, nil
}

func (a *App) buildStore(ctx context.Context) error {
	switch a.cfg.Storage.Provider {
	case "memory":
		a.store = memory.New()
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.store = store
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.Storage.DSN,
			Table:    a.cfg.Storage.Table,
			MaxConns: a.cfg.Storage.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres storage: %w", err)
		}
		a.store = store
		a.closeStore = store.Close
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.GCSPrefix,
		})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.store = store
		a.closeStore = func() { _ = client.Close() }
	default:
		return fmt.Errorf("unknown storage provider %q", a.cfg.Storage.Provider)
	}
	a.logger.Info("record store ready", zap.String("provider", a.cfg.Storage.Provider))
	return nil
}

// RunBatch executes every configured source once and persists the updated
// dedup snapshot. The returned results match the source order.
func (a *App) RunBatch(ctx context.Context) ([]ingest.JobResult, error) {
	jobs := make([]ingest.Job, len(a.sources))
	for i, src := range a.sources {
		src := src
		jobs[i] = ingest.Job{
			Name: src.Name(),
			Run: func(ctx context.Context) error {
				report, err := src.Run(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("source report",
					zap.String("source", report.Source),
					zap.Int("fetched", report.Fetched),
					zap.Int("duplicates", report.Duplicates),
					zap.Int("fresh", len(report.Items)),
				)
				return nil
			},
		}
	}

	results := a.sched.RunAll(ctx, jobs)

	if err := a.store.SaveRecords(ctx, a.cfg.Dedup.Scope, a.tracker.Snapshot()); err != nil {
		return results, fmt.Errorf("persist dedup snapshot: %w", err)
	}
	return results, nil
}

// Serve runs recurring batches on the configured cron schedule until ctx is
// cancelled, optionally serving metrics alongside.
func (a *App) Serve(ctx context.Context) error {
	if a.metrics != nil {
		go func() {
			if err := a.metrics.Start(); err != nil {
				a.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	c := cron.New()
	_, err := c.AddFunc(a.cfg.Serve.Schedule, func() {
		results, err := a.RunBatch(ctx)
		if err != nil {
			a.logger.Error("scheduled batch failed", zap.Error(err))
			return
		}
		failed := 0
		for _, res := range results {
			if !res.Success {
				failed++
			}
		}
		a.logger.Info("scheduled batch finished",
			zap.Int("jobs", len(results)),
			zap.Int("failed", failed),
		)
	})
	if err != nil {
		return fmt.Errorf("parse cron schedule %q: %w", a.cfg.Serve.Schedule, err)
	}

	a.logger.Info("serve mode started", zap.String("schedule", a.cfg.Serve.Schedule))
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics shutdown", zap.Error(err))
		}
	}
	return nil
}

// Close tears down every service in reverse dependency order.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close hub: %w", err)
		}
	}
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	if a.closeStore != nil {
		a.closeStore()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close pubsub: %w", err)
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
	return firstErr
}

func (a *App) runIDString() string {
	return progress.Event{RunID: a.runID}.RunUUID().String()
}
