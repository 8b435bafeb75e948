package cli

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"esroot/config"
	"esroot/data/db"
	basicdb "esroot/data/db/basic"
	"esroot/domain/eventsourced"
	"esroot/domain/identity"
	"esroot/errors"
	"esroot/eventing/bus"
	"esroot/eventing/monitoring"
	"esroot/eventing/registry"
	"esroot/eventing/store"
	"esroot/eventing/store/cached"
	sqlstore "esroot/eventing/store/sql"
	"esroot/examples/item"
	"esroot/logging"
	"esroot/messaging"
	"esroot/messaging/command"
	cmdmw "esroot/messaging/command/middleware"
	"esroot/messaging/transport/memory"
	"esroot/messaging/transport/natsjetstream"
	"esroot/messaging/transport/redisstreams"
	synctransport "esroot/messaging/transport/sync"
	"esroot/patterns/retry"
)

// App 按配置装配的运行时：存储 → 事件总线 → 仓储 → 分发器 → Item 命令处理器
type App struct {
	Config     *config.Config
	Logger     logging.Logger
	Store      store.IEventStore
	Bus        *bus.EventBus
	Repository *eventsourced.Repository[*item.Item, identity.UUID]
	Dispatcher *command.Dispatcher
	Manager    *item.Manager
	Cache      *cached.EventStore            // store.cache_size > 0 时
	Dedupe     *cmdmw.IdempotencyMiddleware // dispatch.dedupe_ttl > 0 时

	gatherer prometheus.Gatherer
	closers  []func() error
}

// NewApp 装配并启动所有组件；失败时已启动的组件会被关闭
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *App, err error) {
	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	metrics := monitoring.Metrics(monitoring.NopMetrics{})
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = monitoring.NewPrometheusMetrics(reg)
		app.gatherer = reg
	}

	events := registry.NewRegistry()
	if err := item.RegisterEvents(events); err != nil {
		return nil, err
	}

	inner, err := app.openStore(ctx, events)
	if err != nil {
		return nil, err
	}
	var base store.IEventStore = store.NewInstrumentedEventStore(inner, metrics)
	if cfg.Store.CacheSize > 0 {
		app.Cache = cached.NewEventStore(base, cached.Config{Size: cfg.Store.CacheSize, TTL: cfg.Store.CacheTTL})
		base = app.Cache
	}
	app.Store = store.NewTracingEventStore(base)

	transport, err := app.publisherTransport()
	if err != nil {
		return nil, err
	}
	app.Bus = bus.NewEventBus(transport,
		bus.WithLogger(logger.WithFields(logging.Component("eventing.bus"))),
		bus.WithMetrics(metrics),
		bus.WithRegistry(events))
	if err := app.Bus.Start(ctx); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeQueue, "start event bus")
	}
	app.closers = append(app.closers, app.Bus.Close)

	repoOpts := []eventsourced.RepositoryOption{
		eventsourced.WithLogger(logger.WithFields(logging.Component("domain.eventsourced.repository"))),
		eventsourced.WithMetrics(metrics),
	}
	if cfg.Retry.MaxAttempts > 1 {
		repoOpts = append(repoOpts, eventsourced.WithRetry(cfg.RetryPolicy()))
	}
	app.Repository, err = item.NewRepository(app.Store, app.Bus, repoOpts...)
	if err != nil {
		return nil, err
	}

	dispatcherOpts := []command.Option{command.WithLogger(logger.WithFields(logging.Component("messaging.command")))}
	if cfg.Dispatch.DedupeTTL > 0 {
		app.Dedupe = cmdmw.NewIdempotencyMiddleware(
			cmdmw.IdempotencyConfig{TTL: cfg.Dispatch.DedupeTTL, Size: cfg.Dispatch.DedupeSize},
			logger.WithFields(logging.Component("messaging.command.idempotency")))
		dispatcherOpts = append(dispatcherOpts, command.WithMiddleware(app.Dedupe))
	}
	if cfg.Dispatch.Mode == "async" {
		app.Dispatcher = command.NewAsyncDispatcher(dispatcherOpts...)
	} else {
		app.Dispatcher = command.NewSyncDispatcher(dispatcherOpts...)
	}
	if err := app.Dispatcher.Start(ctx); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeQueue, "start dispatcher")
	}
	app.closers = append(app.closers, app.Dispatcher.Close)

	app.Manager = item.NewManager(app.Repository, logger.WithFields(logging.Component("examples.item")))
	if err := app.Dispatcher.Register(ctx, []command.ICommandHandler{app.Manager}); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) openStore(ctx context.Context, events *registry.Registry) (store.IEventStore, error) {
	cfg := a.Config.Store
	if cfg.Driver == "memory" {
		return store.NewMemoryEventStore(), nil
	}

	dbConfig := db.DBConfig{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.Driver == "sqlite" {
		dbConfig.Init = db.SQLitePragmas
	}

	var database *basicdb.DB
	open := func(ctx context.Context, attempt int) error {
		var err error
		database, err = basicdb.New(dbConfig)
		if err != nil {
			a.Logger.Warn(ctx, "open database failed",
				logging.String("driver", cfg.Driver),
				logging.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	}
	if err := retry.Do(ctx, open, a.Config.RetryPolicy()); err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrCodeStoreUnavailable, "open "+cfg.Driver+" database", err)
	}
	a.closers = append(a.closers, database.Close)

	s := sqlstore.NewSQLEventStore(database,
		sqlstore.WithTableName(cfg.Table),
		sqlstore.WithRegistry(events),
		sqlstore.WithLogger(a.Logger.WithFields(logging.Component("eventing.store.sql"))))
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, errors.WrapStoreError(ctx, err, "ensure schema")
	}
	return s, nil
}

func (a *App) publisherTransport() (messaging.Transport, error) {
	cfg := a.Config.Publisher
	switch cfg.Transport {
	case "async":
		return memory.NewMemoryTransport(
			memory.WithWorkers(1),
			memory.WithLogger(a.Logger.WithFields(logging.Component("messaging.transport.memory"))),
		), nil
	case "redis":
		return redisstreams.NewTransport(redisstreams.Config{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Stream:    cfg.Redis.Stream,
			GroupName: cfg.Redis.Group,
			Logger:    a.Logger.WithFields(logging.Component("messaging.transport.redis")),
		})
	case "nats":
		return natsjetstream.NewTransport(natsjetstream.Config{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Durable:       cfg.NATS.Durable,
			Logger:        a.Logger.WithFields(logging.Component("messaging.transport.nats")),
		}), nil
	default:
		return synctransport.NewSyncTransport(), nil
	}
}

// Drain 等待异步分发器处理完已提交的命令
func (a *App) Drain() error {
	return a.Dispatcher.Close()
}

// Close 逆序关闭组件，并在 Debug 级别输出指标汇总
func (a *App) Close() error {
	a.logMetrics()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stdErrors.Join(errs...)
}

func (a *App) logMetrics() {
	if a.gatherer == nil {
		return
	}
	families, err := a.gatherer.Gather()
	if err != nil {
		a.Logger.Warn(context.Background(), "gather metrics failed", logging.Error(err))
		return
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		a.Logger.Debug(context.Background(), "metric",
			logging.String("name", strings.TrimPrefix(mf.GetName(), "esroot_")),
			logging.String("value", fmt.Sprintf("%g", total)))
	}
}
