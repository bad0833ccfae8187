// Package app builds the crawl pipeline from configuration and owns the
// long-lived clients it depends on.
package app

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/clock/system"
	"github.com/JakeFAU/hn-archive-crawler/internal/config"
	"github.com/JakeFAU/hn-archive-crawler/internal/controller"
	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
	"github.com/JakeFAU/hn-archive-crawler/internal/dedup"
	"github.com/JakeFAU/hn-archive-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/hn-archive-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/hn-archive-crawler/internal/frontier"
	"github.com/JakeFAU/hn-archive-crawler/internal/hash/sha256"
	"github.com/JakeFAU/hn-archive-crawler/internal/id/uuid"
	"github.com/JakeFAU/hn-archive-crawler/internal/metrics"
	"github.com/JakeFAU/hn-archive-crawler/internal/persist"
	"github.com/JakeFAU/hn-archive-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/hn-archive-crawler/internal/policy/retry"
	gcppublisher "github.com/JakeFAU/hn-archive-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/hn-archive-crawler/internal/site/hn"
	gcsstorage "github.com/JakeFAU/hn-archive-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/hn-archive-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/hn-archive-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/hn-archive-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/hn-archive-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/hn-archive-crawler/internal/telemetry"
	"github.com/JakeFAU/hn-archive-crawler/internal/worker"
)

// ServiceName identifies the crawler in traces and notifications.
const ServiceName = "hn-archive-crawler"

// Version is stamped at build time.
var Version = "dev"

// App contains one crawl run and the clients it holds open.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	site       *hn.Site
	probe      *collyfetcher.Fetcher
	controller *controller.Controller
	buffer     *persist.Buffer
	blobStore  crawler.BlobStore

	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	manifest        crawler.SegmentManifest
	tracerShutdown  telemetry.Shutdown
}

// Build creates every collaborator of a crawl run. Nothing touches the
// network until Run.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	app := &App{cfg: cfg, runID: runID, logger: logger.With(zap.String("run_id", runID))}

	app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: ServiceName,
		Version:     Version,
		ProjectID:   cfg.Tracing.ProjectID,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err := app.build(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	var err error
	a.site, err = hn.New(cfg.Site.Origin)
	if err != nil {
		return fmt.Errorf("site init failed: %w", err)
	}

	a.blobStore, err = a.setupStorage(ctx)
	if err != nil {
		return err
	}
	if err := a.setupManifest(ctx); err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	a.buffer, err = persist.New(persist.Config{
		RunID:      a.runID,
		Prefix:     cfg.Storage.Prefix,
		MaxRecords: cfg.Buffer.MaxRecords,
		MaxAge:     cfg.BufferMaxAge(),
		Topic:      cfg.PubSub.TopicName,
	}, a.blobStore, a.manifest, publisher, sha256.New(), system.New(), a.logger)
	if err != nil {
		return fmt.Errorf("persist buffer init failed: %w", err)
	}

	listing, detail := a.setupFetchers()
	a.probe = listing

	endDate, err := cfg.EndDate()
	if err != nil {
		return err
	}
	walker, err := frontier.New(frontier.Config{
		Mode:     frontier.Mode(cfg.Frontier.Mode),
		EndDate:  endDate,
		Days:     cfg.Frontier.Days,
		MaxPages: cfg.Frontier.MaxPages,
	}, a.site, listing, ratelimit.New(ratelimit.Config{Delay: cfg.ListingDelay()}), a.logger)
	if err != nil {
		return fmt.Errorf("frontier init failed: %w", err)
	}

	wk, err := worker.New(a.site, detail, dedup.New(), a.buffer, a.logger)
	if err != nil {
		return fmt.Errorf("worker init failed: %w", err)
	}
	pool, err := dispatcher.New(cfg.Crawl.Workers, wk, a.logger)
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}
	a.controller, err = controller.New(controller.Config{
		EmptyPageThreshold: cfg.Crawl.EmptyPageThreshold,
		MaxListingPages:    cfg.Crawl.MaxListingPages,
	}, walker, pool, a.buffer, a.logger)
	if err != nil {
		return fmt.Errorf("controller init failed: %w", err)
	}

	a.logger.Info("crawl pipeline built",
		zap.String("site", a.site.Name()),
		zap.String("origin", a.site.Origin()),
		zap.String("mode", cfg.Frontier.Mode),
		zap.Int("workers", pool.Width()),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("manifest", cfg.Manifest.Backend),
	)
	return nil
}

// setupFetchers returns the listing and detail clients. They share one
// transport; only the listing client treats 403 as a cooldown signal.
func (a *App) setupFetchers() (*collyfetcher.Fetcher, *collyfetcher.Fetcher) {
	cfg := a.cfg
	transport := collyfetcher.NewTransport(cfg.Fetch.MaxConnsPerHost)
	base := retry.Config{
		BaseDelay:           cfg.BaseDelay(),
		RetryStatuses:       cfg.Fetch.RetryStatuses,
		CooldownMultiplier:  cfg.Fetch.CooldownMultiplier,
		TransportMultiplier: cfg.Fetch.TransportMultiplier,
	}

	listingPolicy := base
	listingPolicy.MaxAttempts = cfg.Fetch.ListingMaxAttempts
	listingPolicy.CooldownStatuses = cfg.Fetch.ListingCooldownStatuses
	detailPolicy := base
	detailPolicy.MaxAttempts = cfg.Fetch.MaxAttempts

	listing := collyfetcher.New(collyfetcher.Config{
		Endpoint:  "listing",
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		Transport: transport,
		Policy:    retry.New(listingPolicy),
	}, a.logger)
	detail := collyfetcher.New(collyfetcher.Config{
		Endpoint:  "detail",
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.FetchTimeout(),
		Transport: transport,
		Policy:    retry.New(detailPolicy),
	}, a.logger)
	return listing, detail
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket:   a.cfg.Storage.GCSBucket,
			Metadata: map[string]string{"run_id": a.runID},
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		store, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Warn("using in-memory storage backend, segments are discarded on exit")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupManifest(ctx context.Context) error {
	switch a.cfg.Manifest.Backend {
	case "postgres":
		m, err := pgstore.New(ctx, pgstore.Config{
			DSN:      a.cfg.Manifest.Postgres.DSN,
			Table:    a.cfg.Manifest.Postgres.Table,
			MaxConns: a.cfg.Manifest.Postgres.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres manifest init failed: %w", err)
		}
		a.manifest = m
		a.logger.Info("postgres manifest initialized", zap.String("table", a.cfg.Manifest.Postgres.Table))
	case "sqlite":
		m, err := sqlitestore.Open(a.cfg.Manifest.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite manifest init failed: %w", err)
		}
		a.manifest = m
		a.logger.Info("sqlite manifest initialized", zap.String("path", a.cfg.Manifest.SQLitePath))
	default:
		a.logger.Debug("no segment manifest configured")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, segment notifications disabled")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(a.pubsubClient.Publisher(a.cfg.PubSub.TopicName), map[string]string{
		"run_id": a.runID,
		"site":   a.site.Name(),
	})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

// RunID returns the identifier segments of this run are written under.
func (a *App) RunID() string {
	return a.runID
}

// Run probes the origin and then crawls until a termination condition
// holds. An unreachable origin is fatal before any listing page is walked.
func (a *App) Run(ctx context.Context) (controller.Summary, error) {
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		if err := metrics.Serve(metricsCtx, a.cfg.Metrics.ListenAddr, a.logger); err != nil {
			a.logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	defer func() {
		stopMetrics()
		<-metricsDone
	}()

	if err := a.probe.Probe(ctx, a.site.Origin()); err != nil {
		return controller.Summary{}, fmt.Errorf("origin unreachable: %w", err)
	}

	summary, err := a.controller.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("crawl: %w", err)
	}
	return summary, nil
}

// Close releases clients. Pending records are flushed if Run never got to it.
func (a *App) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if a.buffer != nil {
		if err := a.buffer.Close(ctx); err != nil {
			a.logger.Warn("persist buffer close failed", zap.Error(err))
		}
	}
	if a.manifest != nil {
		if err := a.manifest.Close(); err != nil {
			a.logger.Warn("manifest close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
