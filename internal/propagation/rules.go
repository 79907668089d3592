package propagation

import (
	"context"

	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/schema"
)

// CountdownID is the id of the countdown timer derived from a task.
func CountdownID(taskID string) string { return "countdown-" + taskID }

// PlannerBlockID is the id of the planner block derived from a meeting.
func PlannerBlockID(meetingID string) string { return "planner-" + meetingID }

var upserts = []ChangeKind{Added, Updated}
var deletes = []ChangeKind{Deleted}

// DefaultRules returns the standard mapping table.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "task-to-timeline", Source: domain.TargetTasks, Kinds: upserts, Apply: taskToTimeline},
		{Name: "task-delete-timeline", Source: domain.TargetTasks, Kinds: deletes, Apply: removeSameID(domain.TargetTimelineTasks)},
		{Name: "task-to-countdown", Source: domain.TargetTasks, Kinds: upserts, Apply: taskToCountdown},
		{Name: "task-delete-countdown", Source: domain.TargetTasks, Kinds: deletes, Apply: removeCountdown},
		{Name: "project-to-timeline", Source: domain.TargetProjects, Kinds: upserts, Apply: projectToTimeline},
		{Name: "project-delete-timeline", Source: domain.TargetProjects, Kinds: deletes, Apply: removeSameID(domain.TargetTimelineProjects)},
		{Name: "timeline-to-project", Source: domain.TargetTimelineProjects, Kinds: upserts, Apply: timelineToProject},
		{Name: "timeline-delete-project", Source: domain.TargetTimelineProjects, Kinds: deletes, Apply: removeSameID(domain.TargetProjects)},
		{Name: "meeting-to-planner", Source: domain.TargetMeetings, Kinds: upserts, Apply: meetingToPlanner},
		{Name: "meeting-delete-planner", Source: domain.TargetMeetings, Kinds: deletes, Apply: removeMeetingBlock},
	}
}

func removeSameID(t domain.Target) func(context.Context, *Engine, Change) error {
	return func(ctx context.Context, e *Engine, ch Change) error {
		return e.removeDerived(ctx, t, ch.Record.ID())
	}
}

func removeCountdown(ctx context.Context, e *Engine, ch Change) error {
	return e.removeDerived(ctx, domain.TargetCountdownTimers, CountdownID(ch.Record.ID()))
}

func removeMeetingBlock(ctx context.Context, e *Engine, ch Change) error {
	return e.removeDerived(ctx, domain.TargetPlannerBlocks, PlannerBlockID(ch.Record.ID()))
}

func taskToTimeline(ctx context.Context, e *Engine, ch Change) error {
	task := ch.Record
	id := task.ID()
	existing, err := e.find(ctx, domain.TargetTimelineTasks, id)
	if err != nil {
		return err
	}

	fields := domain.Record{
		"name":     task.String("title"),
		"priority": float64(domain.PriorityLevel(domain.Priority(task.String("priority")))),
		"source":   string(domain.CollectionTasks),
	}
	progress, status := timelineProgress(task, existing)
	fields["progress"] = progress
	fields["status"] = string(status)

	if due := task.String("dueDate"); due != "" {
		fields["endDate"] = due
		if existing == nil || existing.String("startDate") == "" {
			fields["startDate"] = startDateFor(task, due)
		}
	}
	if pid := task.String("projectId"); pid != "" {
		fields["projectId"] = pid
	}
	return e.upsertDerived(ctx, domain.TargetTimelineTasks, id, fields)
}

// timelineProgress maps task completion onto timeline progress. An
// incomplete task keeps partial progress recorded on the timeline side.
func timelineProgress(task, existing domain.Record) (float64, domain.TimelineStatus) {
	if task.Bool("completed") {
		return 100, domain.TimelineCompleted
	}
	if p, ok := existing["progress"].(float64); ok && p > 0 && p < 100 {
		return p, domain.TimelineInProgress
	}
	if task.String("status") == string(domain.TimelineInProgress) {
		return 0, domain.TimelineInProgress
	}
	return 0, domain.TimelineNotStarted
}

// startDateFor picks the creation date when it precedes the due date.
func startDateFor(task domain.Record, due string) string {
	created := task.String("createdAt")
	if len(created) >= 10 && schema.IsDate(created[:10]) && created[:10] <= due {
		return created[:10]
	}
	return due
}

// taskToCountdown keeps a countdown for every open high-priority task with
// a due date and removes it once the task no longer qualifies.
func taskToCountdown(ctx context.Context, e *Engine, ch Change) error {
	task := ch.Record
	id := CountdownID(task.ID())
	due := task.String("dueDate")
	qualifies := domain.Priority(task.String("priority")) == domain.PriorityHigh && due != "" && !task.Bool("completed")
	if !qualifies {
		return e.removeDerived(ctx, domain.TargetCountdownTimers, id)
	}
	return e.upsertDerived(ctx, domain.TargetCountdownTimers, id, domain.Record{
		"title":        task.String("title"),
		"targetDate":   due,
		"sourceTaskId": task.ID(),
	})
}

func projectToTimeline(ctx context.Context, e *Engine, ch Change) error {
	p := ch.Record
	fields := domain.Record{
		"name":   p.String("name"),
		"status": string(domain.TimelineStatusForProject(domain.ProjectStatus(p.String("status")))),
	}
	copyFields(fields, p, "startDate", "endDate", "description", "color", "progress")
	return e.upsertDerived(ctx, domain.TargetTimelineProjects, p.ID(), fields)
}

func timelineToProject(ctx context.Context, e *Engine, ch Change) error {
	tp := ch.Record
	id := tp.ID()
	existing, err := e.find(ctx, domain.TargetProjects, id)
	if err != nil {
		return err
	}
	ts := domain.TimelineStatus(tp.String("status"))
	status := domain.ProjectStatusForTimeline(ts)
	// "archived" is lossy: keep a project status that already maps to it.
	if existing != nil {
		cur := domain.ProjectStatus(existing.String("status"))
		if domain.TimelineStatusForProject(cur) == ts {
			status = cur
		}
	}
	fields := domain.Record{
		"name":   tp.String("name"),
		"status": string(status),
	}
	copyFields(fields, tp, "startDate", "endDate", "description", "color", "progress")
	return e.upsertDerived(ctx, domain.TargetProjects, id, fields)
}

func meetingToPlanner(ctx context.Context, e *Engine, ch Change) error {
	m := ch.Record
	fields := domain.Record{
		"title":     m.String("title"),
		"date":      m.String("date"),
		"startTime": m.String("startTime"),
		"endTime":   m.String("endTime"),
		"type":      "meeting",
		"sourceId":  m.ID(),
	}
	if loc := m.String("location"); loc != "" {
		fields["notes"] = loc
	}
	return e.upsertDerived(ctx, domain.TargetPlannerBlocks, PlannerBlockID(m.ID()), fields)
}

func copyFields(dst, src domain.Record, names ...string) {
	for _, n := range names {
		if v, ok := src[n]; ok && v != nil {
			dst[n] = v
		}
	}
}
