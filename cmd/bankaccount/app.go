package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/cqrs"
	"github.com/terraskye/cqrs/bank"
	"github.com/terraskye/cqrs/config"
	buskurrentdb "github.com/terraskye/cqrs/eventbus/kurrentdb"
	busmemory "github.com/terraskye/cqrs/eventbus/memory"
	"github.com/terraskye/cqrs/eventstore/kurrentdb"
	"github.com/terraskye/cqrs/eventstore/memory"
	"github.com/terraskye/cqrs/eventstore/sqlite"
	"github.com/terraskye/cqrs/logging"
	cqrsotel "github.com/terraskye/cqrs/otel"
	"github.com/terraskye/cqrs/transport/httpapi"
	viewbadger "github.com/terraskye/cqrs/viewstore/badger"
	viewmemory "github.com/terraskye/cqrs/viewstore/memory"
	viewsqlite "github.com/terraskye/cqrs/viewstore/sqlite"
)

// app is the wired service: event store, account views, command executor
// and query gateway.
type app struct {
	cfg config.Config
	log *logrus.Entry

	store      cqrs.EventStore
	views      *cqrs.ViewProcessor[bank.AccountView]
	projection cqrs.Processor
	processors []cqrs.Processor

	commands cqrs.Executor
	queries  httpapi.AccountQueries

	cancel  context.CancelFunc
	drained sync.WaitGroup
	closers []func() error
}

type appOptions struct {
	// audit receives the audit log of every committed event when not nil.
	audit io.Writer
}

// newApp builds the service described by cfg. Close releases everything
// newApp opened, also when it fails halfway.
func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger, slogger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, log: logrus.NewEntry(logger)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var sqlDB *sql.DB
	switch cfg.EventStore {
	case config.StoreMemory:
		a.store = memory.NewMemoryStore()
	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		sqlDB = store.DB()
		a.store = store
	case config.StoreKurrentDB:
		store, err := kurrentdb.Dial(cfg.KurrentDBURL)
		if err != nil {
			return nil, fmt.Errorf("open event store: %w", err)
		}
		a.store = store
	default:
		return nil, fmt.Errorf("unknown event store %q", cfg.EventStore)
	}
	raw := a.store
	a.closers = append(a.closers, raw.Close)
	a.store = cqrsotel.NewTelemetryStore(raw)

	repo, err := a.openViews(ctx, sqlDB, slogger)
	if err != nil {
		return nil, err
	}
	a.views = bank.NewAccountViewProcessor(repo, a.store)

	processors := []cqrs.Processor{a.views}
	if opts.audit != nil {
		processors = append(processors, bank.NewAuditLog(opts.audit))
	}
	for _, p := range processors {
		a.processors = append(a.processors, cqrsotel.WithProcessorTelemetry(logging.WithProcessorLogging(slogger, p)))
	}
	a.projection = a.processors[0]

	dispatcher, err := a.dispatcher(ctx, raw, slogger)
	if err != nil {
		return nil, err
	}

	aggregate, err := bank.NewAggregate(bank.HappyPathServices())
	if err != nil {
		return nil, err
	}
	execOpts := []cqrs.ExecutorOption{cqrs.WithDispatcher(dispatcher)}
	if cfg.RetryAttempts > 0 {
		execOpts = append(execOpts, cqrs.WithMaxRetries(cfg.RetryAttempts))
	}
	exec := logging.WithCommandLogging(a.log, cqrsotel.WithCommandTelemetry(cqrs.NewCommandExecutor(a.store, aggregate, execOpts...)))

	if cfg.CommandShards > 0 {
		bus := cqrs.NewCommandBus(cfg.CommandBuffer, cfg.CommandShards)
		bank.RegisterCommands(bus, exec)
		a.closers = append(a.closers, func() error {
			bus.Stop()
			return nil
		})
		a.commands = bus
	} else {
		a.commands = exec
	}

	queries := cqrs.NewQueryBus()
	cqrs.RegisterQueryHandler(queries, logging.WithQueryLogging(a.log, cqrsotel.WithQueryTelemetry(bank.NewGetAccountHandler(a.views))))
	a.queries = cqrs.NewQueryGateway[bank.GetAccount, bank.AccountView](queries)

	return a, nil
}

func (a *app) openViews(ctx context.Context, sqlDB *sql.DB, slogger *slog.Logger) (cqrs.ViewRepository[bank.AccountView], error) {
	switch a.cfg.ViewStore {
	case config.StoreMemory:
		return viewmemory.NewRepository[bank.AccountView](), nil
	case config.StoreSQLite:
		if sqlDB == nil {
			db, err := viewsqlite.Open(a.cfg.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("open view store: %w", err)
			}
			a.closers = append(a.closers, db.Close)
			sqlDB = db
		}
		return viewsqlite.NewRepository[bank.AccountView](ctx, sqlDB, bank.AccountViewName)
	case config.StoreBadger:
		badgerCfg := viewbadger.DefaultConfig(a.cfg.BadgerPath)
		badgerCfg.Logger = slogger
		db, err := viewbadger.Open(badgerCfg)
		if err != nil {
			return nil, fmt.Errorf("open view store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return viewbadger.NewRepository[bank.AccountView](db, bank.AccountViewName), nil
	default:
		return nil, fmt.Errorf("unknown view store %q", a.cfg.ViewStore)
	}
}

// dispatcher returns what feeds committed events to the processors. Async
// projections run on an event bus: in process for the local stores, a $all
// subscription for KurrentDB.
func (a *app) dispatcher(ctx context.Context, raw cqrs.EventStore, slogger *slog.Logger) (cqrs.Dispatcher, error) {
	onError := logging.ErrorHandler(slogger)
	if !a.cfg.AsyncProjections {
		return cqrs.NewSyncDispatcher(onError, a.processors...), nil
	}

	var bus cqrs.EventBus
	if store, ok := raw.(*kurrentdb.EventStore); ok {
		bus = buskurrentdb.NewEventBus(store.Client(), cqrs.DefaultRegistry)
	} else {
		bus = busmemory.NewEventBus()
	}
	bus = cqrsotel.WithEventBusTelemetry(bus)

	subCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.closers = append(a.closers, bus.Close)

	a.drained.Add(1)
	go func() {
		defer a.drained.Done()
		for err := range bus.Errors() {
			slogger.Error("event bus failed", slog.Any("error", err))
		}
	}()

	for _, p := range a.processors {
		if err := bus.Subscribe(subCtx, p); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", p.Name(), err)
		}
	}
	return bus, nil
}

// Close stops the service in reverse opening order: command bus, event bus,
// view store, event store.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.cancel != nil {
		a.cancel()
	}
	a.drained.Wait()
	return errors.Join(errs...)
}

// Replay feeds every event committed after the global position after to the
// processors and returns the position of the last one.
func (a *app) Replay(ctx context.Context, after uint64) (uint64, error) {
	return cqrs.Replay(ctx, a.store, after, a.processors...)
}

// CatchUpViews replays the whole store into the account views only.
func (a *app) CatchUpViews(ctx context.Context) (uint64, error) {
	return cqrs.Replay(ctx, a.store, 0, a.projection)
}

// Account returns the view of one account after applying every stored event
// it has not seen yet.
func (a *app) Account(ctx context.Context, accountID string) (bank.AccountView, error) {
	if err := a.views.CatchUp(ctx, cqrs.NewStreamID(bank.AggregateType, accountID)); err != nil {
		return bank.AccountView{}, err
	}
	return a.queries.HandleQuery(ctx, bank.GetAccount{AccountID: accountID})
}
