package propagation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alexanderramin/dayplan/internal/cache"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/propagation"
	"github.com/alexanderramin/dayplan/internal/repository"
	"github.com/alexanderramin/dayplan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*propagation.Engine, *repository.CollectionRepo) {
	t.Helper()
	store := testutil.NewTestStore(testutil.NewTestBackend(t))
	c := cache.New(store, cache.Config{Debounce: time.Hour, TTL: time.Minute}, testutil.DiscardLogger(), nil)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	repo := repository.NewCollectionRepo(c, nil, testutil.DiscardLogger())
	return propagation.NewEngine(repo, testutil.DiscardLogger()), repo
}

func list(t *testing.T, repo *repository.CollectionRepo, target domain.Target) []domain.Record {
	t.Helper()
	records, err := repo.List(context.Background(), target)
	require.NoError(t, err)
	return records
}

func TestPropagate_TaskToTimeline(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()
	task := testutil.NewTestTask("Buy milk", testutil.WithID("task-1"), testutil.WithPriority(domain.PriorityHigh), testutil.WithDueDate("2030-05-01"))

	res := engine.Propagate(ctx, propagation.Change{Target: domain.TargetTasks, Kind: propagation.Added, Record: task})
	assert.Empty(t, res.Failed)
	assert.Contains(t, res.Applied, "task-to-timeline")

	timeline := list(t, repo, domain.TargetTimelineTasks)
	require.Len(t, timeline, 1)
	got := timeline[0]
	assert.Equal(t, "task-1", got.ID())
	assert.Equal(t, "Buy milk", got["name"])
	assert.Equal(t, float64(3), got["priority"])
	assert.Equal(t, float64(0), got["progress"])
	assert.Equal(t, "not-started", got["status"])
	assert.Equal(t, "2030-05-01", got["endDate"])
}

func TestPropagate_TaskCompletionMapsToProgress(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()
	task := testutil.NewTestTask("Ship", testutil.WithID("t1"), testutil.WithPriority(domain.PriorityLow))
	engine.Propagate(ctx, propagation.Change{Target: domain.TargetTasks, Kind: propagation.Added, Record: task})

	task["completed"] = true
	engine.Propagate(ctx, propagation.Change{Target: domain.TargetTasks, Kind: propagation.Updated, Record: task})

	timeline := list(t, repo, domain.TargetTimelineTasks)
	require.Len(t, timeline, 1)
	assert.Equal(t, float64(100), timeline[0]["progress"])
	assert.Equal(t, "completed", timeline[0]["status"])
	assert.Equal(t, float64(1), timeline[0]["priority"])
}

func TestPropagate_Idempotent(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()
	task := testutil.NewTestTask("Dup", testutil.WithID("t1"), testutil.WithPriority(domain.PriorityHigh), testutil.WithDueDate("2030-01-01"))
	meeting := testutil.NewTestMeeting("Sync", testutil.WithID("m1"))

	for i := 0; i < 2; i++ {
		engine.Propagate(ctx, propagation.Change{Target: domain.TargetTasks, Kind: propagation.Updated, Record: task})
		engine.Propagate(ctx, propagation.Change{Target: domain.TargetMeetings, Kind: propagation.Added, Record: meeting})
	}

	assert.Len(t, list(t, repo, domain.TargetTimelineTasks), 1)
	assert.Len(t, list(t, repo, domain.TargetCountdownTimers), 1)
	blocks := list(t, repo, domain.TargetPlannerBlocks)
	require.Len(t, blocks, 1)
	assert.Equal(t, "planner-m1", blocks[0].ID())
	assert.Equal(t, "09:30", blocks[0]["startTime"])
	assert.Equal(t, "meeting", blocks[0]["type"])
}

func TestPropagate_DeleteTaskRemovesCountdown(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()
	task := testutil.NewTestTask("Exam", testutil.WithID("t1"), testutil.WithPriority(domain.PriorityHigh), testutil.WithDueDate("2030-06-01"))

	engine.Propagate(ctx, propagation.Change{Target: domain.TargetTasks, Kind: propagation.Added, Record: task})
	countdowns := list(t, repo, domain.TargetCountdownTimers)
	require.Len(t, countdowns, 1)
	assert.Equal(t, "countdown-t1", countdowns[0].ID())
	assert.Equal(t, "2030-06-01", countdowns[0]["targetDate"])

	res := engine.Propagate(ctx, propagation.Change{Target: domain.TargetTasks, Kind: propagation.Deleted, Record: task})
	assert.Empty(t, res.Failed)
	assert.Empty(t, list(t, repo, domain.TargetCountdownTimers))
	assert.Empty(t, list(t, repo, domain.TargetTimelineTasks))
}

func TestPropagate_CountdownRemovedWhenTaskNoLongerQualifies(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()
	task := testutil.NewTestTask("Exam", testutil.WithID("t1"), testutil.WithPriority(domain.PriorityHigh), testutil.WithDueDate("2030-06-01"))
	engine.Propagate(ctx, propagation.Change{Target: domain.TargetTasks, Kind: propagation.Added, Record: task})
	require.Len(t, list(t, repo, domain.TargetCountdownTimers), 1)

	task["priority"] = "medium"
	engine.Propagate(ctx, propagation.Change{Target: domain.TargetTasks, Kind: propagation.Updated, Record: task})
	assert.Empty(t, list(t, repo, domain.TargetCountdownTimers))
}

func TestPropagate_ProjectStatusVocabulary(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()
	project := testutil.NewTestProject("Garden", testutil.WithID("p1"), testutil.WithStatus("cancelled"))

	engine.Propagate(ctx, propagation.Change{Target: domain.TargetProjects, Kind: propagation.Added, Record: project})
	timeline := list(t, repo, domain.TargetTimelineProjects)
	require.Len(t, timeline, 1)
	assert.Equal(t, "archived", timeline[0]["status"])
	assert.Equal(t, "2025-01-06", timeline[0]["startDate"])

	// Inverse direction: a timeline-side edit reaches the projects collection.
	_, err := repo.Upsert(ctx, domain.TargetProjects, project)
	require.NoError(t, err)
	edited := timeline[0].Merge(domain.Record{"name": "Garden v2"})
	engine.Propagate(ctx, propagation.Change{Target: domain.TargetTimelineProjects, Kind: propagation.Updated, Record: edited})

	projects := list(t, repo, domain.TargetProjects)
	require.Len(t, projects, 1)
	assert.Equal(t, "Garden v2", projects[0]["name"])
	assert.Equal(t, "cancelled", projects[0]["status"], "archived keeps an equivalent project status")
}

func TestPropagate_TimelineArchivedBecomesOnHold(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()

	engine.Propagate(ctx, propagation.Change{
		Target: domain.TargetTimelineProjects,
		Kind:   propagation.Added,
		Record: domain.Record{"id": "gp1", "name": "Old", "status": "archived"},
	})
	projects := list(t, repo, domain.TargetProjects)
	require.Len(t, projects, 1)
	assert.Equal(t, "on-hold", projects[0]["status"])

	engine.Propagate(ctx, propagation.Change{Target: domain.TargetTimelineProjects, Kind: propagation.Deleted, Record: domain.Record{"id": "gp1"}})
	assert.Empty(t, list(t, repo, domain.TargetProjects))
}

func TestPropagate_MeetingDeleteRemovesBlock(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()
	meeting := testutil.NewTestMeeting("1:1", testutil.WithID("m1"))

	engine.Propagate(ctx, propagation.Change{Target: domain.TargetMeetings, Kind: propagation.Added, Record: meeting})
	require.Len(t, list(t, repo, domain.TargetPlannerBlocks), 1)

	engine.Propagate(ctx, propagation.Change{Target: domain.TargetMeetings, Kind: propagation.Deleted, Record: meeting})
	assert.Empty(t, list(t, repo, domain.TargetPlannerBlocks))
}

func TestPropagate_InvalidDerivedRecordIsReportedNotFatal(t *testing.T) {
	engine, repo := newEngine(t)
	ctx := context.Background()
	meeting := domain.Record{"id": "m2", "title": "No times", "date": "2025-02-10"}

	res := engine.Propagate(ctx, propagation.Change{Target: domain.TargetMeetings, Kind: propagation.Added, Record: meeting})
	require.Contains(t, res.Failed, "meeting-to-planner")
	assert.Empty(t, list(t, repo, domain.TargetPlannerBlocks))
}

type brokenStore struct{ propagation.RecordStore }

var errBroken = errors.New("store broken")

func (brokenStore) Find(context.Context, domain.Target, repository.Locator) (domain.Record, error) {
	return nil, errBroken
}

func (brokenStore) Delete(context.Context, domain.Target, repository.Locator) (domain.Record, error) {
	return nil, errBroken
}

func TestPropagate_StoreErrorsAreAbsorbed(t *testing.T) {
	engine := propagation.NewEngine(brokenStore{}, testutil.DiscardLogger())
	task := testutil.NewTestTask("x", testutil.WithPriority(domain.PriorityHigh), testutil.WithDueDate("2030-01-01"))

	var res propagation.Result
	require.NotPanics(t, func() {
		res = engine.Propagate(context.Background(), propagation.Change{Target: domain.TargetTasks, Kind: propagation.Added, Record: task})
	})
	assert.ErrorIs(t, res.Failed["task-to-timeline"], errBroken)
	assert.ErrorIs(t, res.Failed["task-to-countdown"], errBroken)
	assert.Empty(t, res.Applied)
}

func TestPropagate_UnrelatedCollection(t *testing.T) {
	engine, _ := newEngine(t)
	res := engine.Propagate(context.Background(), propagation.Change{
		Target: domain.Target{Collection: domain.CollectionNotes},
		Kind:   propagation.Added,
		Record: domain.Record{"id": "n1"},
	})
	assert.Empty(t, res.Applied)
	assert.Empty(t, res.Failed)
}
