package diagnostic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexanderramin/dayplan/internal/cache"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/events"
	"github.com/alexanderramin/dayplan/internal/kvstore"
	"github.com/alexanderramin/dayplan/internal/service"
)

const plannerKey = string(domain.CollectionPlanner)

// Report itemizes every problem found and every repair applied.
type Report struct {
	Success bool     `json:"success"`
	Issues  []string `json:"issues"`
	Fixed   []string `json:"fixed"`
	Data    any      `json:"data"`
}

// RestoreCandidate describes a pending restore from the backup store.
type RestoreCandidate struct {
	PrimaryMissing bool
	PrimaryBlocks  int
	BackupBlocks   int
}

// ConfirmRestore decides whether a restore may overwrite the primary copy.
// The "most blocks wins" rule cannot tell lost data from deliberate
// deletions, so callers with a user at hand should ask.
type ConfirmRestore func(ctx context.Context, c RestoreCandidate) bool

// Config tunes the engine's background work.
type Config struct {
	// DeepInterval is the period of scheduled deep validation; zero disables it.
	DeepInterval time.Duration
	// BackupInterval is the period of backup snapshots; zero disables it.
	BackupInterval time.Duration
	// Confirm gates restores. Nil restores without asking.
	Confirm ConfirmRestore
}

// Engine diagnoses and repairs the planner collection and keeps a
// secondary copy of it for recovery.
type Engine struct {
	cache    *cache.Cache
	bus      *events.Bus
	backup   *kvstore.Store
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	observer service.UseCaseObserver

	deepRunning atomic.Bool
}

// NewEngine creates an Engine. backup may be nil, which disables recovery.
func NewEngine(c *cache.Cache, bus *events.Bus, backup *kvstore.Store, cfg Config, logger *slog.Logger, metrics *Metrics, observers ...service.UseCaseObserver) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		cache:    c,
		bus:      bus,
		backup:   backup,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		observer: service.UseCaseObserverOrNoop(observers...),
	}
}

// Diagnose runs the load-time pass: availability, existence, parse,
// structural repair, per-block validation, then persist and notify when
// anything was repaired.
func (e *Engine) Diagnose(ctx context.Context) Report {
	start := time.Now()
	rep := e.run(ctx, false)
	e.finish(ctx, "diagnose", start, rep)
	return rep
}

// DeepValidate runs the diagnostic with null-entry removal. It returns
// false without doing anything when another deep pass is in progress.
func (e *Engine) DeepValidate(ctx context.Context) (Report, bool) {
	if !e.deepRunning.CompareAndSwap(false, true) {
		e.metrics.DeepSkipped.Inc()
		e.logger.DebugContext(ctx, "deep_validation_skipped")
		return Report{}, false
	}
	defer e.deepRunning.Store(false)

	start := time.Now()
	rep := e.run(ctx, true)
	e.finish(ctx, "deep_validate", start, rep)
	return rep, true
}

func (e *Engine) finish(ctx context.Context, kind string, start time.Time, rep Report) {
	result := "clean"
	switch {
	case !rep.Success:
		result = "failed"
	case len(rep.Fixed) > 0:
		result = "repaired"
	}
	e.metrics.Runs.WithLabelValues(kind, result).Inc()
	e.metrics.Issues.Add(float64(len(rep.Issues)))
	e.metrics.Fixes.Add(float64(len(rep.Fixed)))

	var err error
	if !rep.Success {
		err = fmt.Errorf("%s failed: %v", kind, rep.Issues)
	}
	service.Observe(ctx, e.observer, kind, start, err, map[string]any{
		"issues": len(rep.Issues),
		"fixed":  len(rep.Fixed),
	})
	if len(rep.Issues) > 0 {
		e.logger.WarnContext(ctx, "planner_diagnostic", "kind", kind, "issues", rep.Issues, "fixed", rep.Fixed)
	}
}

func (e *Engine) run(ctx context.Context, deep bool) Report {
	if !e.cache.Store().IsAvailable(ctx) {
		return Report{
			Success: false,
			Issues:  []string{"storage is unavailable"},
			Fixed:   []string{},
			Data:    domain.DefaultPlannerData(),
		}
	}

	raw, ok := e.cache.ReadRaw(ctx, plannerKey)
	if !ok {
		return e.resetReport(ctx, "plannerData is missing", "created plannerData with default values")
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		reason := "plannerData is not an object"
		if err != nil {
			reason = fmt.Sprintf("plannerData could not be parsed: %v", err)
		}
		return e.resetReport(ctx, reason, "reset plannerData to default values")
	}

	data, issues, fixed := Repair(obj, deep)
	rep := Report{Success: true, Issues: issues, Fixed: fixed, Data: data}
	if len(fixed) > 0 {
		if err := e.persist(ctx, data); err != nil {
			rep.Issues = append(rep.Issues, fmt.Sprintf("repaired plannerData could not be persisted: %v", err))
		}
	}
	return rep
}

func (e *Engine) resetReport(ctx context.Context, issue, fix string) Report {
	def := domain.DefaultPlannerData()
	rep := Report{Success: true, Issues: []string{issue}, Fixed: []string{fix}, Data: def}
	if err := e.persist(ctx, def); err != nil {
		rep.Issues = append(rep.Issues, fmt.Sprintf("default plannerData could not be persisted: %v", err))
	}
	return rep
}

// persist writes through immediately and notifies. The in-memory value is
// updated even when the physical write fails.
func (e *Engine) persist(ctx context.Context, data any) error {
	err := e.cache.Write(ctx, plannerKey, data, true)
	if err != nil {
		e.logger.ErrorContext(ctx, "planner_persist_failed", "error", err.Error())
	}
	if e.bus != nil {
		e.bus.PublishUpdate(domain.CollectionPlanner, data)
	}
	return err
}

// Reset overwrites plannerData with its defaults.
func (e *Engine) Reset(ctx context.Context) error {
	return e.persist(ctx, domain.DefaultPlannerData())
}

// Backup snapshots the current plannerData into the backup store. Values
// without a blocks array are not worth keeping and are skipped.
func (e *Engine) Backup(ctx context.Context) error {
	if e.backup == nil {
		return nil
	}
	raw, ok := e.cache.ReadRaw(ctx, plannerKey)
	if !ok {
		return nil
	}
	if _, valid := countBlocks(raw); !valid {
		return nil
	}
	if err := e.backup.SetRaw(ctx, plannerKey, raw); err != nil {
		return fmt.Errorf("writing planner backup: %w", err)
	}
	e.metrics.Backups.Inc()
	return nil
}

// RestoreOutcome reports what Recover did.
type RestoreOutcome struct {
	Candidate *RestoreCandidate
	Restored  bool
	Declined  bool
}

// Recover overwrites the primary plannerData with the backup copy when the
// primary is missing or unreadable, or has strictly fewer blocks than the
// backup. The configured confirmation callback may veto the restore.
func (e *Engine) Recover(ctx context.Context) (RestoreOutcome, error) {
	var out RestoreOutcome
	if e.backup == nil || !e.cache.Store().IsAvailable(ctx) {
		return out, nil
	}
	braw, ok := e.backup.GetRaw(ctx, plannerKey)
	if !ok {
		return out, nil
	}
	backupBlocks, valid := countBlocks(braw)
	if !valid {
		return out, nil
	}

	cand := RestoreCandidate{BackupBlocks: backupBlocks}
	if praw, found := e.cache.ReadRaw(ctx, plannerKey); found {
		n, readable := countBlocks(praw)
		cand.PrimaryBlocks = n
		cand.PrimaryMissing = !readable
	} else {
		cand.PrimaryMissing = true
	}
	if !cand.PrimaryMissing && cand.PrimaryBlocks >= cand.BackupBlocks {
		return out, nil
	}
	out.Candidate = &cand

	if e.cfg.Confirm != nil && !e.cfg.Confirm(ctx, cand) {
		out.Declined = true
		e.logger.InfoContext(ctx, "planner_restore_declined",
			"primary_blocks", cand.PrimaryBlocks, "backup_blocks", cand.BackupBlocks)
		return out, nil
	}

	var data any
	if err := json.Unmarshal(braw, &data); err != nil {
		return out, fmt.Errorf("decoding planner backup: %w", err)
	}
	if err := e.persist(ctx, data); err != nil {
		return out, fmt.Errorf("restoring planner backup: %w", err)
	}
	out.Restored = true
	e.metrics.Restores.Inc()
	e.logger.WarnContext(ctx, "planner_restored_from_backup",
		"primary_missing", cand.PrimaryMissing,
		"primary_blocks", cand.PrimaryBlocks,
		"backup_blocks", cand.BackupBlocks)
	return out, nil
}

// countBlocks reports the number of non-null blocks and whether raw is an
// object with a blocks array.
func countBlocks(raw []byte) (int, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return 0, false
	}
	blocks, ok := obj["blocks"].([]any)
	if !ok {
		return 0, false
	}
	n := 0
	for _, b := range blocks {
		if b != nil {
			n++
		}
	}
	return n, true
}

// Load is the startup sequence: recover from backup if needed, diagnose,
// then take a fresh backup. A restore is itemized in the report.
func (e *Engine) Load(ctx context.Context) Report {
	outcome, err := e.Recover(ctx)
	rep := e.Diagnose(ctx)

	var issues, fixed []string
	if c := outcome.Candidate; c != nil {
		if c.PrimaryMissing {
			issues = append(issues, fmt.Sprintf("plannerData is missing or unreadable while the backup holds %d blocks", c.BackupBlocks))
		} else {
			issues = append(issues, fmt.Sprintf("plannerData has %d blocks, fewer than the %d in the backup", c.PrimaryBlocks, c.BackupBlocks))
		}
		switch {
		case outcome.Restored:
			fixed = append(fixed, "restored plannerData from backup")
		case outcome.Declined:
			fixed = append(fixed, "restore from backup declined")
		}
	}
	if err != nil {
		issues = append(issues, err.Error())
	}
	rep.Issues = append(append([]string{}, issues...), rep.Issues...)
	rep.Fixed = append(append([]string{}, fixed...), rep.Fixed...)

	if err := e.Backup(ctx); err != nil {
		e.logger.WarnContext(ctx, "planner_backup_failed", "error", err.Error())
	}
	return rep
}

// Start subscribes deep validation to planner updates and launches the
// periodic deep-validation and backup loops. The returned function stops
// everything and waits for the loops to exit.
func (e *Engine) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var unsubscribe func()
	if e.bus != nil {
		unsubscribe = e.bus.Subscribe(events.UpdatedTopic(domain.CollectionPlanner), func(events.Event) {
			if _, ran := e.DeepValidate(ctx); ran {
				if err := e.Backup(ctx); err != nil {
					e.logger.WarnContext(ctx, "planner_backup_failed", "error", err.Error())
				}
			}
		})
	}

	var wg sync.WaitGroup
	e.every(ctx, &wg, e.cfg.DeepInterval, func() { e.DeepValidate(ctx) })
	if e.backup != nil {
		e.every(ctx, &wg, e.cfg.BackupInterval, func() {
			if err := e.Backup(ctx); err != nil {
				e.logger.WarnContext(ctx, "planner_backup_failed", "error", err.Error())
			}
		})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if unsubscribe != nil {
				unsubscribe()
			}
			cancel()
			wg.Wait()
		})
	}
}

func (e *Engine) every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}
