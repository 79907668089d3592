package mutation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexanderramin/dayplan/internal/cache"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/events"
	"github.com/alexanderramin/dayplan/internal/mutation"
	"github.com/alexanderramin/dayplan/internal/propagation"
	"github.com/alexanderramin/dayplan/internal/repository"
	"github.com/alexanderramin/dayplan/internal/service"
	"github.com/alexanderramin/dayplan/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	pipeline *mutation.Pipeline
	repo     *repository.CollectionRepo
	counting *testutil.CountingBackend
	bus      *events.Bus
	metrics  *mutation.Metrics
	observed *recordingObserver
}

type recordingObserver struct {
	mu     sync.Mutex
	events []service.UseCaseEvent
}

func (r *recordingObserver) ObserveUseCase(_ context.Context, e service.UseCaseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func newHarness(t *testing.T, wrap ...func(mutation.RecordStore) mutation.RecordStore) *harness {
	t.Helper()
	counting := testutil.NewCountingBackend(testutil.NewTestBackend(t))
	c := cache.New(testutil.NewTestStore(counting), cache.Config{Debounce: time.Hour, TTL: time.Minute}, testutil.DiscardLogger(), nil)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	bus := events.NewBus(testutil.DiscardLogger())
	repo := repository.NewCollectionRepo(c, bus, testutil.DiscardLogger())
	var records mutation.RecordStore = repo
	for _, w := range wrap {
		records = w(records)
	}
	metrics := mutation.NewMetrics(nil)
	observed := &recordingObserver{}
	p := mutation.New(records, c, propagation.NewEngine(repo, testutil.DiscardLogger()), bus,
		mutation.Config{MaxRetries: 2, RetryBackoff: time.Millisecond},
		testutil.DiscardLogger(), metrics, observed)
	t.Cleanup(p.Wait)

	return &harness{pipeline: p, repo: repo, counting: counting, bus: bus, metrics: metrics, observed: observed}
}

func (h *harness) list(t *testing.T, target domain.Target) []domain.Record {
	t.Helper()
	records, err := h.repo.List(context.Background(), target)
	require.NoError(t, err)
	return records
}

func (h *harness) approve(t *testing.T, ops ...mutation.Operation) *mutation.Proposal {
	t.Helper()
	ctx := context.Background()
	prop, err := h.pipeline.Submit(ctx, ops)
	require.NoError(t, err)
	require.Equal(t, mutation.ProposalPending, prop.State)
	done, err := h.pipeline.Approve(ctx, prop.ID)
	require.NoError(t, err)
	return done
}

func TestSubmit_RejectsBeforeStorageAccess(t *testing.T) {
	h := newHarness(t)

	prop, err := h.pipeline.Submit(context.Background(), []mutation.Operation{
		{Type: mutation.OpUpdate, Collection: "tasks", Data: map[string]any{"title": "renamed"}},
	})
	require.NoError(t, err)

	assert.Equal(t, mutation.ProposalInvalid, prop.State)
	require.Len(t, prop.Results, 1)
	res := prop.Results[0]
	assert.Equal(t, mutation.StatusInvalid, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, mutation.CodeInvalidShape, res.Error.Code)
	assert.Contains(t, res.Error.Message, "requires an id or a query")

	assert.Equal(t, 0, h.counting.TotalWrites())
	assert.Equal(t, int64(0), h.counting.Reads())
	assert.Empty(t, h.pipeline.Pending())
}

func TestSubmit_ShapeValidation(t *testing.T) {
	tests := []struct {
		name string
		op   mutation.Operation
		want string
	}{
		{"missing type", mutation.Operation{Collection: "tasks"}, "type is missing"},
		{"unknown type", mutation.Operation{Type: "upsert", Collection: "tasks", Data: map[string]any{}}, `unknown operation type "upsert"`},
		{"missing collection", mutation.Operation{Type: mutation.OpAdd, Data: map[string]any{"title": "x"}}, "has no collection"},
		{"add without data", mutation.Operation{Type: mutation.OpAdd, Collection: "tasks"}, "add operation requires data"},
		{"update without data", mutation.Operation{Type: mutation.OpUpdate, Collection: "tasks", ID: "t1"}, "update operation requires data"},
		{"update with empty data", mutation.Operation{Type: mutation.OpUpdate, Collection: "tasks", ID: "t1", Data: map[string]any{}}, "no fields to change"},
		{"delete without locator", mutation.Operation{Type: mutation.OpDelete, Collection: "tasks"}, "requires an id or a query"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			prop, err := h.pipeline.Submit(context.Background(), []mutation.Operation{tc.op})
			require.NoError(t, err)
			res := prop.Results[0]
			require.NotNil(t, res.Error)
			assert.Equal(t, mutation.CodeInvalidShape, res.Error.Code)
			assert.Contains(t, res.Error.Message, tc.want)
		})
	}
}

func TestSubmit_EmptyBatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, mutation.ErrEmptyBatch)
}

func TestSubmit_ValidBatchIsHeldWithoutStorageAccess(t *testing.T) {
	h := newHarness(t)

	prop, err := h.pipeline.Submit(context.Background(), []mutation.Operation{
		{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{"title": "Buy milk"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, prop.ID)
	assert.Equal(t, mutation.StatusPending, prop.Results[0].Status)

	pending := h.pipeline.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, prop.ID, pending[0].ID)
	assert.Equal(t, 0, h.counting.TotalWrites())
	assert.Empty(t, h.list(t, domain.TargetTasks))
}

func TestApprove_BuyMilk(t *testing.T) {
	h := newHarness(t)

	done := h.approve(t, mutation.Operation{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{"title": "Buy milk"}})
	require.Equal(t, mutation.ProposalApproved, done.State)
	res := done.Results[0]
	require.Equal(t, mutation.StatusApplied, res.Status, "error: %v", res.Error)
	assert.Equal(t, 1, res.Attempts)

	tasks := h.list(t, domain.TargetTasks)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "Buy milk", task["title"])
	assert.True(t, strings.HasPrefix(task.ID(), "task-"), task.ID())
	assert.NotEmpty(t, task.String("createdAt"))
	assert.Equal(t, task.ID(), res.Record.ID())

	timeline := h.list(t, domain.TargetTimelineTasks)
	require.Len(t, timeline, 1)
	assert.Equal(t, task.ID(), timeline[0].ID())
	assert.Equal(t, "Buy milk", timeline[0]["name"])

	// Approval flushes, so the task is already in the store.
	assert.Equal(t, 1, h.counting.Writes("tasks"))
	assert.Empty(t, h.repo.Cache().Pending())

	h.pipeline.Wait()
	assert.Equal(t, float64(1), promtest.ToFloat64(h.metrics.Verifications.WithLabelValues("ok")))
	assert.Equal(t, []string{"mutation.submit", "mutation.approve"}, h.observed.names())
}

func TestApprove_BatchAppliesValidOperationsIndependently(t *testing.T) {
	h := newHarness(t)

	done := h.approve(t,
		mutation.Operation{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{"title": "Write report"}},
		mutation.Operation{Type: mutation.OpUpdate, Collection: "tasks", Data: map[string]any{"title": "x"}},
		mutation.Operation{Type: mutation.OpAdd, Collection: "meetings", Data: map[string]any{
			"title": "Sync", "date": "2025-03-01", "startTime": "10:00", "endTime": "09:00",
		}},
		mutation.Operation{Type: mutation.OpDelete, Collection: "tasks", ID: "missing"},
		mutation.Operation{Type: mutation.OpAdd, Collection: "recipes", Data: map[string]any{"title": "Soup"}},
	)

	statuses := make([]mutation.Status, len(done.Results))
	for i, r := range done.Results {
		statuses[i] = r.Status
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, []mutation.Status{
		mutation.StatusApplied,
		mutation.StatusInvalid,
		mutation.StatusInvalid,
		mutation.StatusFailed,
		mutation.StatusInvalid,
	}, statuses)

	assert.Equal(t, mutation.CodeInvalidContent, done.Results[2].Error.Code)
	assert.Equal(t, mutation.CodeNotFound, done.Results[3].Error.Code)
	assert.Equal(t, 1, done.Results[3].Attempts, "deterministic failures are not retried")
	assert.Equal(t, mutation.CodeUnknownCollection, done.Results[4].Error.Code)

	assert.Len(t, h.list(t, domain.TargetTasks), 1)
	assert.Empty(t, h.list(t, domain.TargetMeetings))
	assert.Equal(t, float64(1), promtest.ToFloat64(h.metrics.Operations.WithLabelValues("add", "applied")))
	assert.Equal(t, float64(1), promtest.ToFloat64(h.metrics.Operations.WithLabelValues("delete", "failed")))
}

func TestReject_AppliesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	prop, err := h.pipeline.Submit(ctx, []mutation.Operation{
		{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{"title": "Buy milk"}},
		{Type: mutation.OpDelete, Collection: "tasks"},
	})
	require.NoError(t, err)

	rejected, err := h.pipeline.Reject(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, mutation.ProposalRejected, rejected.State)
	assert.Equal(t, mutation.StatusRejected, rejected.Results[0].Status)
	assert.Equal(t, mutation.CodeRejected, rejected.Results[0].Error.Code)
	assert.Equal(t, mutation.StatusInvalid, rejected.Results[1].Status)

	assert.Equal(t, 0, h.counting.TotalWrites())
	assert.Empty(t, h.pipeline.Pending())

	_, err = h.pipeline.Approve(ctx, prop.ID)
	assert.ErrorIs(t, err, mutation.ErrProposalNotFound)
}

func TestApprove_UnknownProposal(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Approve(context.Background(), "nope")
	assert.ErrorIs(t, err, mutation.ErrProposalNotFound)
}

func TestApprove_InvalidProposalIsNotHeld(t *testing.T) {
	h := newHarness(t)
	prop, err := h.pipeline.Submit(context.Background(), []mutation.Operation{{Type: mutation.OpDelete, Collection: "tasks"}})
	require.NoError(t, err)

	_, err = h.pipeline.Approve(context.Background(), prop.ID)
	assert.ErrorIs(t, err, mutation.ErrProposalNotFound)
}

type flakyStore struct {
	mutation.RecordStore

	mu       sync.Mutex
	failures int
}

func (f *flakyStore) Insert(ctx context.Context, t domain.Target, rec domain.Record) error {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("storage briefly unavailable")
	}
	return f.RecordStore.Insert(ctx, t, rec)
}

func withFlakyInserts(n int) func(mutation.RecordStore) mutation.RecordStore {
	return func(inner mutation.RecordStore) mutation.RecordStore {
		return &flakyStore{RecordStore: inner, failures: n}
	}
}

func TestApprove_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, withFlakyInserts(2))

	done := h.approve(t, mutation.Operation{Type: mutation.OpAdd, Collection: "notes", Data: map[string]any{"title": "Ideas"}})
	res := done.Results[0]
	assert.Equal(t, mutation.StatusApplied, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, float64(2), promtest.ToFloat64(h.metrics.Retries))
	assert.Len(t, h.list(t, domain.Target{Collection: domain.CollectionNotes}), 1)
}

func TestApprove_RetryExhaustion(t *testing.T) {
	h := newHarness(t, withFlakyInserts(3))

	done := h.approve(t, mutation.Operation{Type: mutation.OpAdd, Collection: "notes", Data: map[string]any{"title": "Ideas"}})
	res := done.Results[0]
	assert.Equal(t, mutation.StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	require.NotNil(t, res.Error)
	assert.Equal(t, mutation.CodeApplyFailed, res.Error.Code)
	assert.Contains(t, res.Error.Message, "failed after 3 attempts")
	assert.Contains(t, res.Error.Message, "storage briefly unavailable")
	assert.Empty(t, h.list(t, domain.Target{Collection: domain.CollectionNotes}))
}

func TestApprove_DuplicateIDIsNotRetried(t *testing.T) {
	h := newHarness(t)
	op := mutation.Operation{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{"id": "task-fixed", "title": "A"}}

	first := h.approve(t, op)
	require.Equal(t, mutation.StatusApplied, first.Results[0].Status)

	second := h.approve(t, op)
	res := second.Results[0]
	assert.Equal(t, mutation.StatusFailed, res.Status)
	assert.Equal(t, mutation.CodeDuplicateID, res.Error.Code)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, h.list(t, domain.TargetTasks), 1)
}

func TestApprove_UpdateByQueryMergesAndPropagates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.Insert(ctx, domain.TargetTasks, testutil.NewTestTask("Old title", testutil.WithID("t-1"))))

	done := h.approve(t, mutation.Operation{
		Type:       mutation.OpUpdate,
		Collection: "tasks",
		Query:      map[string]any{"title": "Old title"},
		Data:       map[string]any{"completed": "true"},
	})
	require.Equal(t, mutation.StatusApplied, done.Results[0].Status, "error: %v", done.Results[0].Error)

	task, err := h.repo.Find(ctx, domain.TargetTasks, repository.Locator{ID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, true, task["completed"])
	assert.Equal(t, "Old title", task["title"])
	assert.NotEmpty(t, task.String("lastUpdated"))

	timeline, err := h.repo.Find(ctx, domain.TargetTimelineTasks, repository.Locator{ID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, float64(100), timeline["progress"])
	assert.Equal(t, "completed", timeline["status"])
}

func TestApprove_UpdateCheckedAgainstMergedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.Insert(ctx, domain.TargetMeetings, testutil.NewTestMeeting("Standup", testutil.WithID("m-1"))))

	done := h.approve(t, mutation.Operation{
		Type: mutation.OpUpdate, Collection: "meetings", ID: "m-1",
		Data: map[string]any{"endTime": "08:30"},
	})
	res := done.Results[0]
	assert.Equal(t, mutation.StatusFailed, res.Status)
	assert.Equal(t, mutation.CodeInvalidContent, res.Error.Code)
	assert.Equal(t, 1, res.Attempts)

	meeting, err := h.repo.Find(ctx, domain.TargetMeetings, repository.Locator{ID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "10:15", meeting["endTime"])
}

func TestApprove_DeleteRemovesDerivedCountdown(t *testing.T) {
	h := newHarness(t)

	h.approve(t, mutation.Operation{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{
		"id": "task-9", "title": "File taxes", "priority": "high", "dueDate": "2030-04-15",
	}})
	countdowns := h.list(t, domain.TargetCountdownTimers)
	require.Len(t, countdowns, 1)
	assert.Equal(t, propagation.CountdownID("task-9"), countdowns[0].ID())

	done := h.approve(t, mutation.Operation{Type: mutation.OpDelete, Collection: "tasks", ID: "task-9"})
	require.Equal(t, mutation.StatusApplied, done.Results[0].Status)

	assert.Empty(t, h.list(t, domain.TargetTasks))
	assert.Empty(t, h.list(t, domain.TargetCountdownTimers))
	assert.Empty(t, h.list(t, domain.TargetTimelineTasks))
}

func TestApprove_SingletonTarget(t *testing.T) {
	h := newHarness(t)

	done := h.approve(t, mutation.Operation{Type: mutation.OpAdd, Collection: "plannerData", Data: map[string]any{
		"title": "Deep work", "date": "2025-03-04", "startTime": "9:00", "endTime": "11:00",
	}})
	require.Equal(t, mutation.StatusApplied, done.Results[0].Status, "error: %v", done.Results[0].Error)

	blocks := h.list(t, domain.TargetPlannerBlocks)
	require.Len(t, blocks, 1)
	assert.Equal(t, "09:00", blocks[0]["startTime"])

	value, err := h.repo.Value(context.Background(), domain.CollectionPlanner)
	require.NoError(t, err)
	assert.Contains(t, value.(map[string]any), "settings", "sibling fields survive")
}

func TestApprove_PublishesOperationEvents(t *testing.T) {
	h := newHarness(t)
	var ops []mutation.OperationEvent
	var updates int
	h.bus.Subscribe(events.OperationTopic(domain.CollectionTasks), func(e events.Event) {
		ops = append(ops, e.Payload.(mutation.OperationEvent))
	})
	h.bus.Subscribe(events.TopicDataUpdated, func(events.Event) { updates++ })

	done := h.approve(t, mutation.Operation{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{"title": "Buy milk"}})

	require.Len(t, ops, 1)
	assert.Equal(t, done.ID, ops[0].ProposalID)
	assert.Equal(t, mutation.OpAdd, ops[0].Type)
	assert.Equal(t, done.Results[0].Record.ID(), ops[0].Record.ID())
	assert.Positive(t, updates)
}

func TestVerify_ReportsMissingRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done := h.approve(t, mutation.Operation{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{"title": "Buy milk"}})
	h.pipeline.Wait()
	assert.Empty(t, h.pipeline.Verify(ctx, done.Results))

	require.NoError(t, h.repo.Cache().Store().Remove(ctx, "tasks"))
	mismatches := h.pipeline.Verify(ctx, done.Results)
	require.Len(t, mismatches, 1)
	assert.Equal(t, 0, mismatches[0].Index)
	assert.Contains(t, mismatches[0].Reason, "not stored")
	assert.Equal(t, float64(1), promtest.ToFloat64(h.metrics.Verifications.WithLabelValues("mismatch")))
}

func TestSubmitRaw(t *testing.T) {
	h := newHarness(t)
	raw := "Here you go:\n```json\n[\n" +
		`{"type":"add","collection":"tasks","data":{"title":"Buy milk"}},` + "\n" +
		`{"type":"delete","collection":"tasks","id":"task-1"}` +
		"\n]\n```"

	prop, err := h.pipeline.SubmitRaw(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, prop.Results, 2)
	assert.Equal(t, mutation.OpAdd, prop.Results[0].Operation.Type)
	assert.Equal(t, "task-1", prop.Results[1].Operation.ID)

	_, err = h.pipeline.SubmitRaw(context.Background(), "no operations today")
	var opErr *mutation.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, mutation.CodeInvalidOutput, opErr.Code)
}
