package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/repository"
	"github.com/alexanderramin/dayplan/internal/schema"
)

// ChangeKind is the kind of source mutation.
type ChangeKind int

const (
	Added ChangeKind = iota
	Updated
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Change is a successful mutation of one source record. Record is the
// record after the change, or the removed record for Deleted.
type Change struct {
	Target domain.Target
	Kind   ChangeKind
	Record domain.Record
}

// RecordStore is the subset of the collection repo the engine writes
// derived records through.
type RecordStore interface {
	Find(ctx context.Context, t domain.Target, loc repository.Locator) (domain.Record, error)
	Upsert(ctx context.Context, t domain.Target, rec domain.Record) (bool, error)
	Delete(ctx context.Context, t domain.Target, loc repository.Locator) (domain.Record, error)
}

// Rule derives mutations of other collections from one source change.
type Rule struct {
	Name   string
	Source domain.Target
	Kinds  []ChangeKind
	Apply  func(ctx context.Context, e *Engine, ch Change) error
}

func (r Rule) matches(ch Change) bool {
	if r.Source != ch.Target {
		return false
	}
	for _, k := range r.Kinds {
		if k == ch.Kind {
			return true
		}
	}
	return false
}

// Result summarizes one propagation.
type Result struct {
	Applied []string
	Failed  map[string]error
}

// Engine applies the rule table synchronously after a primary mutation.
// Rule failures are logged and reported in the Result; they never fail
// the primary mutation. Derived writes go straight to the store and do
// not trigger further propagation.
type Engine struct {
	store  RecordStore
	rules  []Rule
	logger *slog.Logger
}

// NewEngine creates an engine with the default rule table.
func NewEngine(store RecordStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{store: store, rules: DefaultRules(), logger: logger}
}

// Rules returns the engine's rule table.
func (e *Engine) Rules() []Rule {
	return e.rules
}

// Propagate runs every rule matching ch.
func (e *Engine) Propagate(ctx context.Context, ch Change) Result {
	res := Result{Failed: map[string]error{}}
	if ch.Record == nil {
		return res
	}
	for _, rule := range e.rules {
		if !rule.matches(ch) {
			continue
		}
		if err := e.safeApply(ctx, rule, ch); err != nil {
			res.Failed[rule.Name] = err
			e.logger.ErrorContext(ctx, "propagation_rule_failed",
				"rule", rule.Name,
				"source", ch.Target.String(),
				"kind", ch.Kind.String(),
				"id", ch.Record.ID(),
				"error", err.Error(),
			)
			continue
		}
		res.Applied = append(res.Applied, rule.Name)
	}
	if len(res.Applied) > 0 {
		e.logger.DebugContext(ctx, "propagation_applied",
			"source", ch.Target.String(), "kind", ch.Kind.String(), "rules", res.Applied)
	}
	return res
}

func (e *Engine) safeApply(ctx context.Context, rule Rule, ch Change) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()
	return rule.Apply(ctx, e, ch)
}

// upsertDerived merges fields into the derived record with the given id,
// validates the result against the target schema and saves it. Fields the
// source does not own are preserved.
func (e *Engine) upsertDerived(ctx context.Context, t domain.Target, id string, fields domain.Record) error {
	existing, err := e.store.Find(ctx, t, repository.Locator{ID: id})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("loading %s id=%s: %w", t, id, err)
	}
	now := domain.Timestamp()
	derived := existing.Merge(fields)
	derived["id"] = id
	if existing == nil {
		derived["createdAt"] = now
	}
	derived["lastUpdated"] = now

	valid, err := schema.Validate(t, derived, schema.ModeInsert)
	if err != nil {
		return fmt.Errorf("derived %s record invalid: %w", t, err)
	}
	if _, err := e.store.Upsert(ctx, t, valid); err != nil {
		return fmt.Errorf("upserting %s id=%s: %w", t, id, err)
	}
	return nil
}

// find returns the record with id, or nil when absent.
func (e *Engine) find(ctx context.Context, t domain.Target, id string) (domain.Record, error) {
	rec, err := e.store.Find(ctx, t, repository.Locator{ID: id})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// removeDerived deletes the derived record if present.
func (e *Engine) removeDerived(ctx context.Context, t domain.Target, id string) error {
	_, err := e.store.Delete(ctx, t, repository.Locator{ID: id})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("removing %s id=%s: %w", t, id, err)
	}
	return nil
}
