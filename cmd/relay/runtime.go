package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/adapters/gologger"
	relayprom "github.com/goliatone/go-relay/adapters/prometheus"
	"github.com/goliatone/go-relay/adapters/zaplogger"
	"github.com/goliatone/go-relay/core"
	relaymigrations "github.com/goliatone/go-relay/migrations"
	"github.com/goliatone/go-relay/snapshot"
	sqlstore "github.com/goliatone/go-relay/store/sql"
	"github.com/goliatone/go-relay/transport"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	driver      string
	dsn         string
	debug       bool
	pingTimeout time.Duration
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.dsn
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return c.pingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-relay"
}

// runtime holds the wired relay components for one CLI invocation.
type runtime struct {
	settings  Settings
	config    core.Config
	logger    *zaplogger.Logger
	client    *persistence.Client
	factory   *sqlstore.RepositoryFactory
	service   *core.Service
	archive   *snapshot.LocalArchive
	sources   []snapshot.Source
	snapshots *snapshot.Manager
	metrics   *relayprom.Recorder
	registry  *prometheus.Registry
}

// openRuntime connects storage, runs migrations and builds the service and
// snapshot manager. The caller must Close the runtime.
func openRuntime(ctx context.Context, settings Settings) (rt *runtime, err error) {
	logger, err := newLogger(settings.Log)
	if err != nil {
		return nil, err
	}
	rt = &runtime{settings: settings, logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	provider := core.NewCfgxConfigProvider(core.NewStaticConfigLoader(settings.Relay))
	rt.config, err = provider.Load(ctx, core.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("relay: load relay config: %w", err)
	}

	rt.registry = prometheus.NewRegistry()
	rt.metrics = relayprom.NewRecorder(rt.registry, relayprom.WithErrorHandler(func(err error) {
		logger.Warn("metric registration failed", "error", err)
	}))

	rt.client, err = openPersistence(ctx, settings.Database)
	if err != nil {
		return nil, err
	}

	factoryOpts := []sqlstore.FactoryOption{
		sqlstore.WithHealthPolicy(core.HealthPolicy{MaxConsecutiveFailures: rt.config.Registry.MaxConsecutiveFailures}),
	}
	if rt.config.Cache.Enabled {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = rt.config.Cache.LookupTTL
		cacheService, cacheErr := repositorycache.NewCacheService(cacheConfig)
		if cacheErr != nil {
			return nil, fmt.Errorf("relay: lookup cache: %w", cacheErr)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithLookupCache(cacheService))
	}
	rt.factory, err = sqlstore.NewRepositoryFactoryFromPersistence(rt.client, factoryOpts...)
	if err != nil {
		return nil, fmt.Errorf("relay: build stores: %w", err)
	}

	poster := transport.NewWebhookClient(&http.Client{})
	poster.MaxResponseBodyBytes = rt.config.Delivery.MaxResponseBodyBytes

	rt.service, err = core.NewService(core.Config{},
		core.WithConfigProvider(provider),
		core.WithLoggerProvider(logger),
		core.WithMetricsRecorder(rt.metrics),
		core.WithPersistenceClient(rt.client),
		core.WithRepositoryFactory(rt.factory),
		core.WithWebhookPoster(poster),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: build service: %w", err)
	}
	if err := rt.registry.Register(relayprom.NewRegistryCollector(rt.service.Stats, 0)); err != nil {
		return nil, fmt.Errorf("relay: register registry collector: %w", err)
	}

	rt.archive, err = snapshot.NewLocalArchive(rt.config.Snapshot.Directory, rt.config.Snapshot.Retain)
	if err != nil {
		return nil, err
	}
	publishers, sources, err := remoteSnapshots(ctx, settings)
	if err != nil {
		return nil, err
	}
	rt.sources = append(sources, rt.archive)

	_, snapshotLogger := gologger.Resolve("snapshot", logger, nil)
	rt.snapshots, err = snapshot.NewManager(snapshot.Config{
		Store:         rt.factory.SnapshotStore(),
		Archive:       rt.archive,
		Publishers:    publishers,
		Sources:       rt.sources,
		FormatVersion: rt.config.Snapshot.FormatVersion,
		Logger:        snapshotLogger,
		Metrics:       rt.metrics,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.client != nil {
		errs = append(errs, rt.client.Close())
	}
	if rt.logger != nil {
		errs = append(errs, rt.logger.Close())
	}
	return errors.Join(errs...)
}

// source resolves a snapshot source by name; empty selects the first one.
func (rt *runtime) source(name string) (snapshot.Source, error) {
	name = strings.TrimSpace(name)
	for _, source := range rt.sources {
		if name == "" || source.Name() == name {
			return source, nil
		}
	}
	return nil, fmt.Errorf("relay: unknown snapshot source %q", name)
}

func newLogger(settings LogSettings) (*zaplogger.Logger, error) {
	cfg := zaplogger.DefaultConfig()
	cfg.Dir = settings.Dir
	cfg.FileName = settings.File
	cfg.Level = settings.Level
	if settings.Console || zaplogger.StdoutIsTerminal() {
		cfg.Console = os.Stdout
	}
	return zaplogger.New(cfg)
}

func openPersistence(ctx context.Context, settings DatabaseSettings) (*persistence.Client, error) {
	var (
		sqlDriver string
		dsn       = strings.TrimSpace(settings.URL)
		dialect   schema.Dialect
		target    string
	)
	switch settings.Driver {
	case driverPostgres:
		sqlDriver, dialect, target = "postgres", pgdialect.New(), relaymigrations.DialectPostgres
	default:
		sqlDriver, dialect, target = "sqlite3", sqlitedialect.New(), relaymigrations.DialectSQLite
		dsn = sqliteDSN(dsn)
	}

	sqlDB, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("relay: open database: %w", err)
	}
	if target == relaymigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{
		driver:      sqlDriver,
		dsn:         dsn,
		debug:       settings.Debug,
		pingTimeout: settings.PingTimeout,
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("relay: connect database: %w", err)
	}

	if _, err := relaymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == target {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, relaymigrations.WithDialects(target)); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay: migrate: %w", err)
	}
	return client, nil
}

// sqliteDSN turns a plain path into a file: DSN with foreign keys enabled.
func sqliteDSN(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return "file:" + dsn + "?_foreign_keys=on&_busy_timeout=5000"
}

// remoteSnapshots builds the GitHub remote (publisher and source) and the
// URL restore source from settings. Unconfigured remotes are skipped.
func remoteSnapshots(ctx context.Context, settings Settings) ([]snapshot.Publisher, []snapshot.Source, error) {
	var (
		publishers []snapshot.Publisher
		sources    []snapshot.Source
	)
	if settings.GitHub.Token != "" && settings.GitHub.Repository != "" {
		remote, err := snapshot.NewGitHubRemote(ctx, snapshot.GitHubConfig{
			Token:      settings.GitHub.Token,
			Repository: settings.GitHub.Repository,
			Ref:        settings.GitHub.Ref,
			Directory:  settings.GitHub.Directory,
		})
		if err != nil {
			return nil, nil, err
		}
		publishers = append(publishers, remote)
		sources = append(sources, remote)
	}
	if settings.Restore.Configured() {
		sources = append(sources, snapshot.NewURLSource(snapshot.URLSourceConfig{
			AdministratorsURL: settings.Restore.AdministratorsURL,
			ServersURL:        settings.Restore.ServersURL,
			BindingsURL:       settings.Restore.BindingsURL,
		}))
	}
	return publishers, sources, nil
}
