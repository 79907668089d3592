package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alexanderramin/dayplan/internal/cache"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/events"
	"github.com/alexanderramin/dayplan/internal/propagation"
	"github.com/alexanderramin/dayplan/internal/repository"
	"github.com/alexanderramin/dayplan/internal/retry"
	"github.com/alexanderramin/dayplan/internal/schema"
	"github.com/alexanderramin/dayplan/internal/service"
	"github.com/google/uuid"
)

var (
	// ErrEmptyBatch indicates Submit was called without operations.
	ErrEmptyBatch = errors.New("no operations submitted")

	// ErrProposalNotFound indicates the id names no pending proposal.
	ErrProposalNotFound = errors.New("proposal not found")
)

// Status is the state of one operation within a proposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInvalid  Status = "invalid"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
)

// ProposalState is the approval state of a proposal.
type ProposalState string

const (
	ProposalPending  ProposalState = "pending"
	ProposalApproved ProposalState = "approved"
	ProposalRejected ProposalState = "rejected"
	// ProposalInvalid marks a proposal in which no operation passed
	// validation. It is never held for approval.
	ProposalInvalid ProposalState = "invalid"
)

// OperationResult is the outcome of the operation at Index.
type OperationResult struct {
	Index     int             `json:"index"`
	Operation Operation       `json:"operation"`
	Status    Status          `json:"status"`
	Record    domain.Record   `json:"record,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
	Error     *OperationError `json:"error,omitempty"`
	// PropagationErrors lists derived-collection rules that failed, by
	// rule name. They never fail the operation itself.
	PropagationErrors map[string]string `json:"propagationErrors,omitempty"`

	target domain.Target
	data   domain.Record
}

// Proposal is a batch of operations awaiting, or past, human review.
type Proposal struct {
	ID        string            `json:"id"`
	State     ProposalState     `json:"state"`
	CreatedAt time.Time         `json:"createdAt"`
	DecidedAt time.Time         `json:"decidedAt,omitzero"`
	Results   []OperationResult `json:"results"`
}

// Count returns the number of operations with status s.
func (p *Proposal) Count(s Status) int {
	n := 0
	for _, r := range p.Results {
		if r.Status == s {
			n++
		}
	}
	return n
}

func (p *Proposal) clone() *Proposal {
	out := *p
	out.Results = append([]OperationResult(nil), p.Results...)
	return &out
}

// OperationEvent is the payload of data:<collection>:operation.
type OperationEvent struct {
	ProposalID string
	Index      int
	Type       OpType
	Target     domain.Target
	Record     domain.Record
}

// RecordStore is the collection access the pipeline applies through.
type RecordStore interface {
	Find(ctx context.Context, t domain.Target, loc repository.Locator) (domain.Record, error)
	Insert(ctx context.Context, t domain.Target, rec domain.Record) error
	Update(ctx context.Context, t domain.Target, loc repository.Locator, patch domain.Record) (before, after domain.Record, err error)
	Delete(ctx context.Context, t domain.Target, loc repository.Locator) (domain.Record, error)
}

// Propagator derives dependent mutations from an applied change.
type Propagator interface {
	Propagate(ctx context.Context, ch propagation.Change) propagation.Result
}

// Config tunes apply retries and verification.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	VerifyDelay  time.Duration
}

// DefaultConfig returns two retries with a 250ms linear backoff and a
// 500ms verification delay.
func DefaultConfig() Config {
	return Config{MaxRetries: 2, RetryBackoff: 250 * time.Millisecond, VerifyDelay: 500 * time.Millisecond}
}

// Pipeline holds proposals until they are approved or rejected and
// applies approved operations.
type Pipeline struct {
	records    RecordStore
	cache      *cache.Cache
	propagator Propagator
	bus        *events.Bus
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
	observer   service.UseCaseObserver

	mu      sync.Mutex
	pending map[string]*Proposal

	verifying sync.WaitGroup
}

// New creates a Pipeline. propagator and bus may be nil.
func New(records RecordStore, c *cache.Cache, propagator Propagator, bus *events.Bus, cfg Config, logger *slog.Logger, metrics *Metrics, observers ...service.UseCaseObserver) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		records:    records,
		cache:      c,
		propagator: propagator,
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		observer:   service.UseCaseObserverOrNoop(observers...),
		pending:    make(map[string]*Proposal),
	}
}

func typeLabel(t OpType) string {
	switch t {
	case OpAdd, OpUpdate, OpDelete:
		return string(t)
	}
	return "unknown"
}

// Submit validates every operation and holds the batch for approval.
// Invalid operations are marked in the result and will not be applied;
// validation never reads or writes storage. A batch with no valid
// operation comes back in ProposalInvalid state and is not held.
func (p *Pipeline) Submit(ctx context.Context, ops []Operation) (*Proposal, error) {
	start := time.Now()
	if len(ops) == 0 {
		service.Observe(ctx, p.observer, "mutation.submit", start, ErrEmptyBatch, nil)
		return nil, ErrEmptyBatch
	}

	prop := &Proposal{
		ID:        uuid.NewString(),
		State:     ProposalPending,
		CreatedAt: start.UTC(),
		Results:   make([]OperationResult, len(ops)),
	}
	for i, op := range ops {
		r := OperationResult{Index: i, Operation: op, Status: StatusPending}
		t, data, opErr := prepare(op)
		if opErr != nil {
			r.Status = StatusInvalid
			r.Error = opErr
			p.metrics.Operations.WithLabelValues(typeLabel(op.Type), string(StatusInvalid)).Inc()
		} else {
			r.target, r.data = t, data
		}
		prop.Results[i] = r
	}

	valid := prop.Count(StatusPending)
	if valid == 0 {
		prop.State = ProposalInvalid
		prop.DecidedAt = prop.CreatedAt
	} else {
		p.mu.Lock()
		p.pending[prop.ID] = prop
		p.mu.Unlock()
	}
	p.metrics.Proposals.WithLabelValues(string(prop.State)).Inc()

	p.logger.InfoContext(ctx, "mutation_proposal_submitted",
		"proposal_id", prop.ID,
		"operations", len(ops),
		"valid", valid,
	)
	service.Observe(ctx, p.observer, "mutation.submit", start, nil, map[string]any{
		"proposal_id": prop.ID,
		"operations":  len(ops),
		"invalid":     len(ops) - valid,
	})
	return prop.clone(), nil
}

// SubmitRaw parses collaborator output with ParseOperations and submits
// the result.
func (p *Pipeline) SubmitRaw(ctx context.Context, raw string) (*Proposal, error) {
	ops, err := ParseOperations(raw)
	if err != nil {
		return nil, err
	}
	return p.Submit(ctx, ops)
}

// Pending returns the proposals awaiting a decision, oldest first.
func (p *Pipeline) Pending() []*Proposal {
	p.mu.Lock()
	out := make([]*Proposal, 0, len(p.pending))
	for _, prop := range p.pending {
		out = append(out, prop.clone())
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// take removes a pending proposal so that only one decision can claim it.
func (p *Pipeline) take(id string) (*Proposal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prop, ok := p.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	delete(p.pending, id)
	return prop, nil
}

// Reject discards a pending proposal. Nothing is applied.
func (p *Pipeline) Reject(ctx context.Context, id string) (*Proposal, error) {
	start := time.Now()
	prop, err := p.take(id)
	if err != nil {
		service.Observe(ctx, p.observer, "mutation.reject", start, err, nil)
		return nil, err
	}

	prop.State = ProposalRejected
	prop.DecidedAt = time.Now().UTC()
	for i := range prop.Results {
		r := &prop.Results[i]
		if r.Status != StatusPending {
			continue
		}
		r.Status = StatusRejected
		r.Error = opErrorf(CodeRejected, "proposal was rejected")
		p.metrics.Operations.WithLabelValues(typeLabel(r.Operation.Type), string(StatusRejected)).Inc()
	}
	p.metrics.Proposals.WithLabelValues(string(ProposalRejected)).Inc()

	p.logger.InfoContext(ctx, "mutation_proposal_rejected", "proposal_id", prop.ID)
	service.Observe(ctx, p.observer, "mutation.reject", start, nil, map[string]any{"proposal_id": prop.ID})
	return prop, nil
}

// Approve applies every valid operation of a pending proposal in order.
// Operations succeed or fail independently. Applied changes are
// propagated, the cache is flushed, and a verification is scheduled.
func (p *Pipeline) Approve(ctx context.Context, id string) (*Proposal, error) {
	start := time.Now()
	prop, err := p.take(id)
	if err != nil {
		service.Observe(ctx, p.observer, "mutation.approve", start, err, nil)
		return nil, err
	}

	prop.State = ProposalApproved
	prop.DecidedAt = time.Now().UTC()
	for i := range prop.Results {
		if prop.Results[i].Status == StatusPending {
			p.applyResult(ctx, prop.ID, &prop.Results[i])
		}
	}
	p.metrics.Proposals.WithLabelValues(string(ProposalApproved)).Inc()

	applied, failed := prop.Count(StatusApplied), prop.Count(StatusFailed)
	if applied > 0 {
		if err := p.cache.Flush(ctx); err != nil {
			p.logger.ErrorContext(ctx, "mutation_flush_failed", "proposal_id", prop.ID, "error", err.Error())
		}
		p.scheduleVerify(ctx, prop.ID, prop.Results)
	}

	var obsErr error
	if failed > 0 {
		obsErr = fmt.Errorf("%d of %d operations failed", failed, applied+failed)
	}
	p.logger.InfoContext(ctx, "mutation_proposal_approved",
		"proposal_id", prop.ID,
		"applied", applied,
		"failed", failed,
	)
	service.Observe(ctx, p.observer, "mutation.approve", start, obsErr, map[string]any{
		"proposal_id": prop.ID,
		"applied":     applied,
		"failed":      failed,
	})
	return prop, nil
}

func (p *Pipeline) applyResult(ctx context.Context, proposalID string, r *OperationResult) {
	op := r.Operation
	data := r.data.Clone()
	if op.Type == OpAdd {
		if data.ID() == "" {
			d, _ := domain.Describe(r.target.Collection)
			data["id"] = domain.NewRecordID(d.IDPrefix)
		}
		if _, ok := data["createdAt"]; !ok {
			data["createdAt"] = domain.Timestamp()
		}
	}

	policy := retry.Linear(p.cfg.MaxRetries, p.cfg.RetryBackoff)
	ch, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (propagation.Change, error) {
		r.Attempts = attempt
		if attempt > 1 {
			p.metrics.Retries.Inc()
		}
		ch, err := p.applyOnce(ctx, r.target, op, data)
		if err == nil {
			return ch, nil
		}
		err = classify(err)
		var opErr *OperationError
		if errors.As(err, &opErr) {
			return ch, retry.Permanent(opErr)
		}
		p.logger.WarnContext(ctx, "mutation_apply_attempt_failed",
			"proposal_id", proposalID,
			"index", r.Index,
			"attempt", attempt,
			"error", err.Error(),
		)
		return ch, err
	})
	if err != nil {
		var opErr *OperationError
		if !errors.As(err, &opErr) {
			opErr = opErrorf(CodeApplyFailed, "%v", err)
		}
		r.Status = StatusFailed
		r.Error = opErr
		p.metrics.Operations.WithLabelValues(typeLabel(op.Type), string(StatusFailed)).Inc()
		p.logger.ErrorContext(ctx, "mutation_apply_failed",
			"proposal_id", proposalID,
			"index", r.Index,
			"collection", r.target.String(),
			"code", string(opErr.Code),
			"error", opErr.Message,
		)
		return
	}

	r.Status = StatusApplied
	r.Record = ch.Record.Clone()
	p.metrics.Operations.WithLabelValues(typeLabel(op.Type), string(StatusApplied)).Inc()

	if p.propagator != nil {
		res := p.propagator.Propagate(ctx, ch)
		for name, perr := range res.Failed {
			if r.PropagationErrors == nil {
				r.PropagationErrors = make(map[string]string)
			}
			r.PropagationErrors[name] = perr.Error()
		}
	}
	if p.bus != nil {
		p.bus.Publish(events.OperationTopic(r.target.Collection), OperationEvent{
			ProposalID: proposalID,
			Index:      r.Index,
			Type:       op.Type,
			Target:     r.target,
			Record:     r.Record.Clone(),
		})
	}
	p.logger.InfoContext(ctx, "mutation_applied",
		"proposal_id", proposalID,
		"index", r.Index,
		"type", string(op.Type),
		"collection", r.target.String(),
		"id", r.Record.ID(),
		"attempts", r.Attempts,
	)
}

func (p *Pipeline) applyOnce(ctx context.Context, t domain.Target, op Operation, data domain.Record) (propagation.Change, error) {
	switch op.Type {
	case OpAdd:
		if err := p.records.Insert(ctx, t, data); err != nil {
			return propagation.Change{}, err
		}
		return propagation.Change{Target: t, Kind: propagation.Added, Record: data.Clone()}, nil

	case OpUpdate:
		existing, err := p.records.Find(ctx, t, op.locator())
		if err != nil {
			return propagation.Change{}, err
		}
		patch := data.Clone()
		patch["lastUpdated"] = domain.Timestamp()
		if err := schema.CheckContent(t, existing.Merge(patch)); err != nil {
			return propagation.Change{}, contentError(err)
		}
		loc := repository.Locator{ID: existing.ID()}
		if loc.IsZero() {
			loc = op.locator()
		}
		_, after, err := p.records.Update(ctx, t, loc, patch)
		if err != nil {
			return propagation.Change{}, err
		}
		return propagation.Change{Target: t, Kind: propagation.Updated, Record: after}, nil

	case OpDelete:
		removed, err := p.records.Delete(ctx, t, op.locator())
		if err != nil {
			return propagation.Change{}, err
		}
		return propagation.Change{Target: t, Kind: propagation.Deleted, Record: removed}, nil
	}
	return propagation.Change{}, opErrorf(CodeInvalidShape, "unknown operation type %q", op.Type)
}

// Mismatch reports an applied operation whose effect is not visible in
// the store.
type Mismatch struct {
	Index  int
	Reason string
}

// Verify re-reads each applied operation's collection from the store,
// bypassing the cache. When several operations touched the same record,
// only the last one is checked.
func (p *Pipeline) Verify(ctx context.Context, results []OperationResult) []Mismatch {
	var out []Mismatch
	seen := make(map[string]bool)
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		id := r.Record.ID()
		if r.Status != StatusApplied || id == "" {
			continue
		}
		key := r.target.String() + "/" + id
		if seen[key] {
			continue
		}
		seen[key] = true

		reason := ""
		stored, err := p.storedRecords(ctx, r.target)
		if err != nil {
			reason = err.Error()
		} else {
			rec := findByID(stored, id)
			switch {
			case r.Operation.Type == OpDelete:
				if rec != nil {
					reason = "deleted record is still stored"
				}
			case rec == nil:
				reason = "record is not stored"
			case !rec.Matches(r.data):
				reason = "stored record differs from the applied change"
			}
		}
		if reason == "" {
			p.metrics.Verifications.WithLabelValues("ok").Inc()
			continue
		}
		p.metrics.Verifications.WithLabelValues("mismatch").Inc()
		out = append(out, Mismatch{Index: r.Index, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (p *Pipeline) storedRecords(ctx context.Context, t domain.Target) ([]domain.Record, error) {
	raw, ok := p.cache.Store().GetRaw(ctx, string(t.Collection))
	if !ok {
		return nil, fmt.Errorf("%s is not stored", t.Collection)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decoding stored %s: %w", t.Collection, err)
	}
	if t.Field != "" {
		obj, _ := value.(map[string]any)
		value = obj[t.Field]
	}
	records, _ := domain.RecordsFromAny(value)
	return records, nil
}

func findByID(records []domain.Record, id string) domain.Record {
	for _, r := range records {
		if r.ID() == id {
			return r
		}
	}
	return nil
}

// scheduleVerify runs Verify after the configured delay. The check only
// logs; it never changes the outcome already returned to the caller.
func (p *Pipeline) scheduleVerify(ctx context.Context, proposalID string, results []OperationResult) {
	snapshot := append([]OperationResult(nil), results...)
	ctx = context.WithoutCancel(ctx)
	p.verifying.Add(1)
	time.AfterFunc(p.cfg.VerifyDelay, func() {
		defer p.verifying.Done()
		mismatches := p.Verify(ctx, snapshot)
		for _, m := range mismatches {
			p.logger.WarnContext(ctx, "mutation_verify_failed",
				"proposal_id", proposalID,
				"index", m.Index,
				"reason", m.Reason,
			)
		}
		if len(mismatches) == 0 {
			p.logger.DebugContext(ctx, "mutation_verified", "proposal_id", proposalID)
		}
	})
}

// Wait blocks until every scheduled verification has run.
func (p *Pipeline) Wait() {
	p.verifying.Wait()
}
