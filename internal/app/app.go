// Package app initializes and holds the long-lived services, acting
// as the dependency injection container for the commands.
package app

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/archive"
	clocksys "github.com/quillfeed/quillwatch/internal/clock/system"
	"github.com/quillfeed/quillwatch/internal/config"
	"github.com/quillfeed/quillwatch/internal/engine"
	"github.com/quillfeed/quillwatch/internal/enrich"
	"github.com/quillfeed/quillwatch/internal/fetcher/headless"
	"github.com/quillfeed/quillwatch/internal/fetcher/mirror"
	iduuid "github.com/quillfeed/quillwatch/internal/id/uuid"
	"github.com/quillfeed/quillwatch/internal/logging"
	"github.com/quillfeed/quillwatch/internal/metrics"
	"github.com/quillfeed/quillwatch/internal/notify"
	notifymem "github.com/quillfeed/quillwatch/internal/notify/memory"
	notifypubsub "github.com/quillfeed/quillwatch/internal/notify/pubsub"
	"github.com/quillfeed/quillwatch/internal/scheduler"
	"github.com/quillfeed/quillwatch/internal/search"
	"github.com/quillfeed/quillwatch/internal/state"
	"github.com/quillfeed/quillwatch/internal/vip"
	"github.com/quillfeed/quillwatch/internal/watch"
)

// App holds every shared service built from configuration. It is
// created once at startup and closed once on the way out.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Fetcher   watch.Fetcher
	Store     watch.StateStore
	Sink      watch.Sink
	Lookup    watch.Lookup
	Archive   watch.Archive
	Search    *search.Aggregator
	Engine    *engine.Engine
	VIP       *vip.Job
	Scheduler *scheduler.Scheduler

	closers []func()
}

// New builds the full service graph. It fails fast: any provider that
// cannot be constructed aborts startup.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.L
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	clock := clocksys.New()
	ids := iduuid.NewUUIDGenerator()

	if err := a.buildFetcher(cfg, logger); err != nil {
		return nil, err
	}
	if err := a.buildStore(ctx, cfg, clock, logger); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildSink(ctx, cfg, logger); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildArchive(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	lookup := enrich.NewMirrorLookup(a.Fetcher, logger)
	a.Lookup = lookup
	a.Search = search.New(a.Fetcher, a.Archive, clock, logger)

	a.Engine = engine.New(a.Search, a.Store, a.Sink, a.Lookup, clock, ids, engine.Config{
		Queries:        cfg.Queries,
		SearchLimit:    cfg.Monitor.SearchLimit,
		AgeCeiling:     cfg.AgeCeiling(),
		MinLikes:       cfg.Monitor.MinLikes,
		GrowthFraction: cfg.Monitor.GrowthFraction,
		GrowthAbsolute: cfg.Monitor.GrowthAbsolute,
		QueryPause:     cfg.QueryPause(),
		Keywords:       cfg.Monitor.Keywords,
		Domains:        cfg.Monitor.Domains,
		EnrichAlerts:   cfg.Monitor.EnrichAlerts,
	}, logger)

	if len(cfg.VIP.Handles) > 0 || len(cfg.VIP.Pairs) > 0 {
		pairs := make([]vip.Pair, 0, len(cfg.VIP.Pairs))
		for _, p := range cfg.VIP.Pairs {
			pairs = append(pairs, vip.Pair{Source: p.Source, Target: p.Target})
		}
		a.VIP = vip.New(lookup, lookup, a.Sink, clock, ids, cfg.VIP.Handles, pairs, cfg.VIP.StatePath, logger)
	}

	var relationship scheduler.RelationshipJob
	if a.VIP != nil {
		relationship = a.VIP
	}
	a.Scheduler = scheduler.New(a.Engine, relationship, cfg.MonitorInterval(), cfg.VIPInterval(), clock, logger)

	logger.Info("services initialized",
		zap.Int("mirrors", len(cfg.Mirrors)),
		zap.Int("queries", len(cfg.Queries)),
		zap.String("fetch_mode", cfg.Fetch.Mode),
		zap.String("state_provider", cfg.State.Provider),
		zap.String("notify_provider", cfg.Notify.Provider),
	)
	return a, nil
}

func (a *App) buildFetcher(cfg config.Config, logger *zap.Logger) error {
	switch cfg.Fetch.Mode {
	case "headless":
		f, err := headless.NewChromedp(headless.Config{
			Mirrors:           cfg.Mirrors,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.FetchTimeout(),
		}, logger)
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		a.Fetcher = f
		a.closers = append(a.closers, f.Close)
	default:
		f, err := mirror.New(mirror.Config{
			Mirrors:          cfg.Mirrors,
			Timeout:          cfg.FetchTimeout(),
			RetriesPerMirror: cfg.Fetch.RetriesPerMirror,
			UserAgent:        cfg.Fetch.UserAgent,
			MinBodyBytes:     cfg.Fetch.MinBodyBytes,
		}, logger)
		if err != nil {
			return fmt.Errorf("init mirror fetcher: %w", err)
		}
		a.Fetcher = f
	}
	return nil
}

func (a *App) buildStore(ctx context.Context, cfg config.Config, clock watch.Clock, logger *zap.Logger) error {
	switch cfg.State.Provider {
	case "postgres":
		store, err := state.NewPostgresStore(ctx, state.PostgresConfig{
			DSN:   cfg.State.DSN,
			Table: cfg.State.Table,
		})
		if err != nil {
			return fmt.Errorf("init postgres state store: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
	case "memory":
		a.Store = state.NewMemoryStore()
	default:
		store, err := state.NewFileStore(cfg.State.Path, clock, logger)
		if err != nil {
			return fmt.Errorf("init file state store: %w", err)
		}
		a.Store = store
	}
	return nil
}

func (a *App) buildSink(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	switch cfg.Notify.Provider {
	case "pubsub":
		sink, err := notifypubsub.New(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicID, logger)
		if err != nil {
			return fmt.Errorf("init pubsub sink: %w", err)
		}
		a.Sink = sink
		a.closers = append(a.closers, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("closing pubsub sink", zap.Error(err))
			}
		})
	case "memory":
		a.Sink = notifymem.New()
	default:
		a.Sink = notify.NewLogSink(logger)
	}
	return nil
}

func (a *App) buildArchive(ctx context.Context, cfg config.Config) error {
	switch cfg.Archive.Provider {
	case "local":
		ar, err := archive.NewLocal(cfg.Archive.BaseDir)
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.Archive = ar
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		ar, err := archive.NewGCS(client, cfg.Archive.Bucket)
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.Archive = ar
		a.closers = append(a.closers, func() { client.Close() })
	case "memory":
		a.Archive = archive.NewMemory()
	default:
		// "none": the aggregator tolerates a nil archive.
	}
	return nil
}

// Close shuts every owned resource down in reverse construction
// order and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
