// Package app assembles the persistence layer into one explicitly owned
// context and exposes the operations the command line drives.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexanderramin/dayplan/internal/cache"
	"github.com/alexanderramin/dayplan/internal/config"
	"github.com/alexanderramin/dayplan/internal/db"
	"github.com/alexanderramin/dayplan/internal/diagnostic"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/events"
	"github.com/alexanderramin/dayplan/internal/kvstore"
	"github.com/alexanderramin/dayplan/internal/mutation"
	"github.com/alexanderramin/dayplan/internal/propagation"
	"github.com/alexanderramin/dayplan/internal/repository"
	"github.com/alexanderramin/dayplan/internal/schema"
	"github.com/alexanderramin/dayplan/internal/service"
	"github.com/prometheus/client_golang/prometheus"
)

// Options are the inputs to Open beyond the configuration.
type Options struct {
	Logger *slog.Logger
	// Confirm is asked before a planner restore when the configuration
	// enables confirmation. Nil restores without asking.
	Confirm   diagnostic.ConfirmRestore
	Observers []service.UseCaseObserver
}

// PersistenceContext owns every component of the layer. Nothing in it is
// global; tests and commands each open their own.
type PersistenceContext struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry

	DB          *sql.DB
	Store       *kvstore.Store
	Backup      *kvstore.Store
	Cache       *cache.Cache
	Bus         *events.Bus
	Records     *repository.CollectionRepo
	Propagation *propagation.Engine
	Diagnostic  *diagnostic.Engine
	Mutations   *mutation.Pipeline

	badger *kvstore.BadgerBackend
	stop   func()
}

// Open validates cfg, opens both stores and wires the components.
func Open(cfg config.Config, opts Options) (*PersistenceContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	bdb, err := kvstore.OpenBadger(kvstore.BadgerConfig{Path: cfg.BackupPath, Logger: logger})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("opening backup store: %w", err)
	}

	reg := prometheus.NewRegistry()
	observer := service.MultiUseCaseObserver(append([]service.UseCaseObserver{
		service.NewLogUseCaseObserver(logger),
		service.NewMetricsUseCaseObserver(reg),
	}, opts.Observers...)...)

	store := kvstore.NewStore(kvstore.NewSQLiteBackend(database, cfg.QuotaBytes), logger)
	backup := kvstore.NewStore(bdb, logger)
	c := cache.New(store, cache.Config{
		Debounce:      cfg.Debounce,
		TTL:           cfg.CacheTTL,
		OversizeBytes: cfg.OversizeBytes,
	}, logger, cache.NewMetrics(reg))
	bus := events.NewBus(logger)
	records := repository.NewCollectionRepo(c, bus, logger)
	prop := propagation.NewEngine(records, logger)

	diagCfg := diagnostic.Config{
		DeepInterval:   cfg.DeepValidationInterval,
		BackupInterval: cfg.BackupInterval,
	}
	if cfg.ConfirmRestore {
		diagCfg.Confirm = opts.Confirm
	}
	diag := diagnostic.NewEngine(c, bus, backup, diagCfg, logger, diagnostic.NewMetrics(reg), observer)

	pipeline := mutation.New(records, c, prop, bus, mutation.Config{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		VerifyDelay:  cfg.VerifyDelay,
	}, logger, mutation.NewMetrics(reg), observer)

	return &PersistenceContext{
		Config:      cfg,
		Logger:      logger,
		Registry:    reg,
		DB:          database,
		Store:       store,
		Backup:      backup,
		Cache:       c,
		Bus:         bus,
		Records:     records,
		Propagation: prop,
		Diagnostic:  diag,
		Mutations:   pipeline,
		badger:      bdb,
	}, nil
}

// Load runs the startup sequence: restore from backup when warranted,
// diagnose the planner, snapshot it.
func (p *PersistenceContext) Load(ctx context.Context) diagnostic.Report {
	return p.Diagnostic.Load(ctx)
}

// Start launches deep validation on planner updates and the periodic
// validation and backup loops. Close stops them.
func (p *PersistenceContext) Start(ctx context.Context) {
	if p.stop == nil {
		p.stop = p.Diagnostic.Start(ctx)
	}
}

// RunDiagnostic runs the planner diagnostic on demand.
func (p *PersistenceContext) RunDiagnostic(ctx context.Context) diagnostic.Report {
	return p.Diagnostic.Diagnose(ctx)
}

// FlushAll commits every pending write.
func (p *PersistenceContext) FlushAll(ctx context.Context) error {
	return p.Cache.Flush(ctx)
}

// Get returns the current value of a collection, creating it with its
// default when absent.
func (p *PersistenceContext) Get(ctx context.Context, name string) (any, error) {
	c, err := collection(name)
	if err != nil {
		return nil, err
	}
	return p.Records.Value(ctx, c)
}

// ResetCollection overwrites a collection with its default value and
// commits it immediately.
func (p *PersistenceContext) ResetCollection(ctx context.Context, name string) error {
	c, err := collection(name)
	if err != nil {
		return err
	}
	if c == domain.CollectionPlanner {
		return p.Diagnostic.Reset(ctx)
	}
	if err := p.Records.Reset(ctx, c); err != nil {
		return err
	}
	return p.Cache.Flush(ctx)
}

func collection(name string) (domain.Collection, error) {
	c := domain.Collection(name)
	if !domain.IsValidCollection(c) {
		return "", fmt.Errorf("%w: %q", repository.ErrUnknownCollection, name)
	}
	return c, nil
}

// SaveRecord is the direct save path. A record whose id already exists is
// validated as a partial update and merged; anything else is validated
// as a new record, given an id and createdAt, and inserted. The change is
// propagated to derived collections.
func (p *PersistenceContext) SaveRecord(ctx context.Context, target string, rec domain.Record) (domain.Record, error) {
	t, err := domain.ResolveTarget(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrUnknownCollection, err)
	}

	if id := rec.ID(); id != "" {
		_, err := p.Records.Find(ctx, t, repository.Locator{ID: id})
		switch {
		case err == nil:
			return p.updateRecord(ctx, t, id, rec)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}

	valid, err := schema.Validate(t, rec, schema.ModeInsert)
	if err == nil {
		err = schema.CheckContent(t, valid)
	}
	if err != nil {
		return nil, err
	}
	if valid.ID() == "" {
		d, _ := domain.Describe(t.Collection)
		valid["id"] = domain.NewRecordID(d.IDPrefix)
	}
	if _, ok := valid["createdAt"]; !ok {
		valid["createdAt"] = domain.Timestamp()
	}
	if err := p.Records.Insert(ctx, t, valid); err != nil {
		return nil, err
	}
	p.propagate(ctx, propagation.Change{Target: t, Kind: propagation.Added, Record: valid})
	return valid, nil
}

func (p *PersistenceContext) updateRecord(ctx context.Context, t domain.Target, id string, rec domain.Record) (domain.Record, error) {
	patch, err := schema.Validate(t, rec, schema.ModeUpdate)
	if err != nil {
		return nil, err
	}
	patch["lastUpdated"] = domain.Timestamp()

	existing, err := p.Records.Find(ctx, t, repository.Locator{ID: id})
	if err != nil {
		return nil, err
	}
	if err := schema.CheckContent(t, existing.Merge(patch)); err != nil {
		return nil, err
	}
	_, after, err := p.Records.Update(ctx, t, repository.Locator{ID: id}, patch)
	if err != nil {
		return nil, err
	}
	p.propagate(ctx, propagation.Change{Target: t, Kind: propagation.Updated, Record: after})
	return after, nil
}

// DeleteRecord removes a record by id and its derived records.
func (p *PersistenceContext) DeleteRecord(ctx context.Context, target, id string) (domain.Record, error) {
	t, err := domain.ResolveTarget(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrUnknownCollection, err)
	}
	removed, err := p.Records.Delete(ctx, t, repository.Locator{ID: id})
	if err != nil {
		return nil, err
	}
	p.propagate(ctx, propagation.Change{Target: t, Kind: propagation.Deleted, Record: removed})
	return removed, nil
}

func (p *PersistenceContext) propagate(ctx context.Context, ch propagation.Change) {
	res := p.Propagation.Propagate(ctx, ch)
	if len(res.Failed) > 0 {
		p.Logger.WarnContext(ctx, "record_propagation_incomplete",
			"target", ch.Target.String(),
			"id", ch.Record.ID(),
			"failed_rules", len(res.Failed),
		)
	}
}

// Close stops background work, flushes pending writes and closes both
// stores. It is the shutdown hook and is safe to call once.
func (p *PersistenceContext) Close(ctx context.Context) error {
	start := time.Now()
	if p.stop != nil {
		p.stop()
	}
	p.Mutations.Wait()

	var errs []error
	if err := p.Cache.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing cache: %w", err))
	}
	if err := p.badger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing backup store: %w", err))
	}
	if err := p.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	p.Logger.DebugContext(ctx, "persistence_closed", "duration_ms", time.Since(start).Milliseconds())
	return errors.Join(errs...)
}
