package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexanderramin/dayplan/internal/config"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/propagation"
	"github.com/alexanderramin/dayplan/internal/repository"
	"github.com/alexanderramin/dayplan/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "nested", "dayplan.db")
	cfg.Debounce = time.Hour
	return cfg
}

func openTest(t *testing.T, cfg config.Config) *PersistenceContext {
	t.Helper()
	p, err := Open(cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.QuotaBytes = 0

	_, err := Open(cfg, Options{})
	assert.ErrorContains(t, err, "quota_bytes must be positive")
}

func TestGet_CreatesDefault(t *testing.T) {
	ctx := context.Background()
	p := openTest(t, testConfig(t))

	v, err := p.Get(ctx, "tasks")
	require.NoError(t, err)
	assert.Equal(t, []any{}, v)

	_, err = p.Get(ctx, "todos")
	assert.ErrorIs(t, err, repository.ErrUnknownCollection)
}

func TestSaveRecord_InsertsAndPropagates(t *testing.T) {
	ctx := context.Background()
	p := openTest(t, testConfig(t))

	saved, err := p.SaveRecord(ctx, "tasks", domain.Record{
		"title": "Ship release", "priority": "high", "dueDate": "2026-11-01",
	})
	require.NoError(t, err)
	id := saved.ID()
	assert.Contains(t, id, "task-")
	assert.NotEmpty(t, saved["createdAt"])

	timeline, err := p.Records.Find(ctx, domain.TargetTimelineTasks, repository.Locator{ID: id})
	require.NoError(t, err)
	assert.Equal(t, "Ship release", timeline["name"])

	_, err = p.Records.Find(ctx, domain.TargetCountdownTimers, repository.Locator{ID: propagation.CountdownID(id)})
	require.NoError(t, err)
}

func TestSaveRecord_ExistingIDUpdates(t *testing.T) {
	ctx := context.Background()
	p := openTest(t, testConfig(t))

	saved, err := p.SaveRecord(ctx, "tasks", domain.Record{
		"title": "Ship release", "priority": "high", "dueDate": "2026-11-01",
	})
	require.NoError(t, err)

	updated, err := p.SaveRecord(ctx, "tasks", domain.Record{"id": saved.ID(), "completed": true})
	require.NoError(t, err)
	assert.Equal(t, "Ship release", updated["title"])
	assert.Equal(t, true, updated["completed"])
	assert.NotEmpty(t, updated["lastUpdated"])

	_, err = p.Records.Find(ctx, domain.TargetCountdownTimers, repository.Locator{ID: propagation.CountdownID(saved.ID())})
	assert.ErrorIs(t, err, repository.ErrNotFound, "completed task loses its countdown")

	records, err := p.Records.List(ctx, domain.TargetTasks)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSaveRecord_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	p := openTest(t, testConfig(t))

	_, err := p.SaveRecord(ctx, "tasks", domain.Record{"description": "no title"})
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	records, err := p.Records.List(ctx, domain.TargetTasks)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteRecord_RemovesDerived(t *testing.T) {
	ctx := context.Background()
	p := openTest(t, testConfig(t))

	saved, err := p.SaveRecord(ctx, "tasks", domain.Record{"title": "Draft"})
	require.NoError(t, err)

	removed, err := p.DeleteRecord(ctx, "tasks", saved.ID())
	require.NoError(t, err)
	assert.Equal(t, "Draft", removed["title"])

	_, err = p.Records.Find(ctx, domain.TargetTimelineTasks, repository.Locator{ID: saved.ID()})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = p.DeleteRecord(ctx, "tasks", saved.ID())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCloseFlushesAndReopenReadsBack(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	p, err := Open(cfg, Options{})
	require.NoError(t, err)
	_, err = p.SaveRecord(ctx, "notes", domain.Record{"title": "persisted"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.Cache.Pending(), "debounced write not yet committed")
	require.NoError(t, p.Close(ctx))

	again := openTest(t, cfg)
	records, err := again.Records.List(ctx, domain.Target{Collection: domain.CollectionNotes})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "persisted", records[0]["title"])
}

func TestResetCollection(t *testing.T) {
	ctx := context.Background()
	p := openTest(t, testConfig(t))

	_, err := p.SaveRecord(ctx, "notes", domain.Record{"title": "gone soon"})
	require.NoError(t, err)
	require.NoError(t, p.ResetCollection(ctx, "notes"))

	v, err := p.Get(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, []any{}, v)
	assert.Empty(t, p.Cache.Pending())

	require.NoError(t, p.ResetCollection(ctx, "plannerData"))
	assert.ErrorIs(t, p.ResetCollection(ctx, "nope"), repository.ErrUnknownCollection)
}

func TestLoadAndRunDiagnostic(t *testing.T) {
	ctx := context.Background()
	p := openTest(t, testConfig(t))

	rep := p.Load(ctx)
	assert.True(t, rep.Success)
	assert.Equal(t, []string{"created plannerData with default values"}, rep.Fixed)

	rep = p.RunDiagnostic(ctx)
	assert.True(t, rep.Success)
	assert.Empty(t, rep.Issues)
	assert.Empty(t, rep.Fixed)
}

func TestStartIsIdempotentAndStoppedByClose(t *testing.T) {
	p, err := Open(testConfig(t), Options{})
	require.NoError(t, err)

	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx)
	require.NoError(t, p.Close(ctx))
}
