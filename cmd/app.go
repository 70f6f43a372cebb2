// Package cmd provides CLI commands for the termit tool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/MichalMed/termit/config"
	"github.com/MichalMed/termit/pkg/analysis"
	"github.com/MichalMed/termit/pkg/annotation"
	"github.com/MichalMed/termit/pkg/assignment"
	"github.com/MichalMed/termit/pkg/db"
	"github.com/MichalMed/termit/pkg/document"
	"github.com/MichalMed/termit/pkg/lock"
	"github.com/MichalMed/termit/pkg/logging"
	"github.com/MichalMed/termit/pkg/observability"
	"github.com/MichalMed/termit/pkg/occurrence"
	"github.com/MichalMed/termit/pkg/resource"
)

// App holds the components a command works with.
type App struct {
	Config      *config.Config
	Logger      logging.Logger
	Registry    *prometheus.Registry
	Metrics     *observability.Metrics
	Events      *observability.EventEmitter
	Resources   resource.Store
	Documents   document.Manager
	Occurrences *occurrence.Manager
	Assignments assignment.Store
	Records     analysis.RecordStore
	Analysis    *analysis.Service

	// Locker serializes analysis runs and removals on the same file.
	Locker lock.Locker

	// Pool is nil with the memory store.
	Pool *pgxpool.Pool

	closers []func() error
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// withFileLock runs fn holding the lock analysis runs take on file.
func (a *App) withFileLock(ctx context.Context, file occurrence.ResourceID, fn func() error) error {
	unlock, err := a.Locker.Lock(ctx, string(file))
	if err != nil {
		return fmt.Errorf("locking %s: %w", file, err)
	}
	defer unlock()
	return fn()
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// CommandDeps holds the dependencies shared by termit commands.
type CommandDeps struct {
	LoadConfig func() (*config.Config, error)
	// BuildApp wires the components for cfg. Sinks receive a copy of every log entry.
	BuildApp func(ctx context.Context, cfg *config.Config, sinks ...logging.Sink) (*App, error)
	// Overrides are applied to the loaded configuration.
	Overrides func(cfg *config.Config)
	Out       io.Writer
	In        *os.File
}

// DefaultDeps returns the default dependencies for production use.
func DefaultDeps() *CommandDeps {
	return &CommandDeps{
		LoadConfig: config.LoadConfig,
		BuildApp:   BuildApp,
		Out:        os.Stdout,
		In:         os.Stdin,
	}
}

func (d *CommandDeps) config() (*config.Config, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if d.Overrides != nil {
		d.Overrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
	}
	return cfg, nil
}

// app loads the configuration and wires the components.
func (d *CommandDeps) app(ctx context.Context, sinks ...logging.Sink) (*App, error) {
	cfg, err := d.config()
	if err != nil {
		return nil, err
	}
	return d.BuildApp(ctx, cfg, sinks...)
}

// BuildApp connects to the configured backends and wires the components.
func BuildApp(ctx context.Context, cfg *config.Config, sinks ...logging.Sink) (*App, error) {
	logCfg := cfg.Logging.Logger()
	logCfg.Sinks = sinks
	logger := logging.NewLogger(logCfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  observability.NewMetrics(reg),
	}

	if err := app.wire(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		var err error
		rdb, err = connectToRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.onClose(rdb.Close)
	}

	a.Events = observability.NewEventEmitter(nil)
	if rdb != nil && cfg.Redis.PublishEvents {
		a.Events = observability.NewEventEmitter(observability.NewRedisEventPublisher(
			func(ctx context.Context, channel string, message interface{}) error {
				return rdb.Publish(ctx, channel, message).Err()
			}))
	}
	a.onClose(a.Events.Close)

	a.Locker = lock.NewLocalLocker()
	var repo occurrence.Repository
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := connectToDatabase(ctx, cfg.Database, a.Logger)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		a.Pool = pool
		a.onClose(func() error { db.Close(pool); return nil })
		if _, err := db.RegisterPoolStatsCollector(a.Registry, pool, observability.Namespace); err != nil {
			return fmt.Errorf("registering pool metrics: %w", err)
		}

		repo = occurrence.NewPostgresRepository(pool)
		a.Resources = resource.NewPostgresStore(pool)
		a.Assignments = assignment.NewPostgresStore(pool)
		a.Records = analysis.NewPostgresRecordStore(pool)
	default:
		mem := newMemoryBackend()
		repo = mem.occurrences
		a.Resources = mem.resources
		a.Assignments = mem.assignments
		a.Records = mem.records
		a.Locker = mem.locker
	}
	if rdb != nil {
		a.Locker = lock.NewRedisLocker(rdb, lock.RedisConfig{TTL: cfg.Redis.LockTTL}, a.Logger)
	}
	a.Occurrences = occurrence.NewManager(repo, a.Logger)

	docs, err := newDocumentManager(cfg)
	if err != nil {
		return err
	}
	a.Documents = docs

	client, err := analysis.NewHTTPClient(cfg.TextAnalysis.Client(), a.Logger)
	if err != nil {
		// Commands other than analyze work without the service.
		a.Logger.Debug("text analysis client not configured", logging.Err(err))
	}

	gen := annotation.NewGenerator(cfg.Annotation, repo, a.Assignments, a.Logger, a.Metrics)
	deps := analysis.Deps{
		Resources: a.Resources,
		Documents: a.Documents,
		Generator: gen,
		Records:   a.Records,
		Locker:    a.Locker,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
		Events:    a.Events,
	}
	if client != nil {
		deps.Client = client
	}
	a.Analysis = analysis.NewService(cfg.TextAnalysis.Service(), deps)
	return nil
}

// memoryBackend holds the stores of the memory store kind.
type memoryBackend struct {
	occurrences occurrence.Repository
	resources   resource.Store
	assignments assignment.Store
	records     analysis.RecordStore
	// locker is process local like the stores it guards.
	locker lock.Locker
}

// newMemoryBackend is replaced in tests to share stores between commands.
var newMemoryBackend = func() memoryBackend {
	return memoryBackend{
		occurrences: occurrence.NewMemoryRepository(),
		resources:   resource.NewMemoryStore(),
		assignments: assignment.NewMemoryStore(),
		records:     analysis.NewMemoryRecordStore(),
		locker:      lock.NewLocalLocker(),
	}
}

func newDocumentManager(cfg *config.Config) (document.Manager, error) {
	var base document.Manager
	switch cfg.Storage.Backend {
	case config.StorageS3:
		m, err := document.NewS3Manager(cfg.Storage.S3)
		if err != nil {
			return nil, fmt.Errorf("creating s3 storage: %w", err)
		}
		base = m
	default:
		m, err := document.NewFileSystemManager(cfg.Storage.Root)
		if err != nil {
			return nil, fmt.Errorf("creating file storage: %w", err)
		}
		base = m
	}

	if cfg.Cache.Size == 0 {
		return base, nil
	}
	cached, err := document.NewCachedManager(base, cfg.Cache.Size)
	if err != nil {
		return nil, fmt.Errorf("creating content cache: %w", err)
	}
	return cached, nil
}
