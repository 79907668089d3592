package domain

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllCollections_ClosedSet(t *testing.T) {
	all := AllCollections()
	assert.Len(t, all, 21)
	assert.True(t, sort.SliceIsSorted(all, func(i, j int) bool { return all[i] < all[j] }))
	for _, c := range all {
		assert.True(t, IsValidCollection(c))
	}
	assert.False(t, IsValidCollection("todos"))
}

func TestDescriptor_DefaultValue(t *testing.T) {
	tasks, ok := Describe(CollectionTasks)
	require.True(t, ok)
	assert.Equal(t, []any{}, tasks.DefaultValue())

	planner, ok := Describe(CollectionPlanner)
	require.True(t, ok)
	def := planner.DefaultValue().(map[string]any)
	assert.Equal(t, []any{}, def["blocks"])
	assert.Equal(t, 8.0, def["settings"].(map[string]any)["workDayStart"])

	def["blocks"] = []any{"mutated"}
	again := planner.DefaultValue().(map[string]any)
	assert.Equal(t, []any{}, again["blocks"], "each call returns a fresh value")
}

func TestResolveTarget(t *testing.T) {
	cases := []struct {
		name string
		want Target
	}{
		{"tasks", TargetTasks},
		{"plannerData", TargetPlannerBlocks},
		{"plannerData.blocks", TargetPlannerBlocks},
		{"ganttData", TargetTimelineTasks},
		{"ganttData.projects", TargetTimelineProjects},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveTarget(tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{"todos", "tasks.items", "plannerData.settings", ""} {
		_, err := ResolveTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "tasks", TargetTasks.String())
	assert.Equal(t, "ganttData.tasks", TargetTimelineTasks.SchemaKey())
}

func TestStatusMappings(t *testing.T) {
	assert.Equal(t, TimelineArchived, TimelineStatusForProject(ProjectCancelled))
	assert.Equal(t, TimelineActive, TimelineStatusForProject(ProjectActive))
	assert.Equal(t, ProjectOnHold, ProjectStatusForTimeline(TimelineArchived))
	assert.Equal(t, ProjectPlanning, ProjectStatusForTimeline(TimelineNotStarted))
	assert.Equal(t, ProjectActive, ProjectStatusForTimeline(TimelineInProgress))

	assert.Equal(t, 3, PriorityLevel(PriorityHigh))
	assert.Equal(t, 2, PriorityLevel("urgent"))
}

func TestNumericField_InRange(t *testing.T) {
	f := PlannerSettingsFields[0]
	assert.True(t, f.InRange(0))
	assert.True(t, f.InRange(23))
	assert.False(t, f.InRange(24))
}
