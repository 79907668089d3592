package domain

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// PriorityLevel maps a task priority to the numeric level used by timeline
// records. Unknown priorities map to medium.
func PriorityLevel(p Priority) int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	default:
		return 2
	}
}

type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on-hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

type TimelineStatus string

const (
	TimelinePlanning   TimelineStatus = "planning"
	TimelineActive     TimelineStatus = "active"
	TimelineArchived   TimelineStatus = "archived"
	TimelineCompleted  TimelineStatus = "completed"
	TimelineNotStarted TimelineStatus = "not-started"
	TimelineInProgress TimelineStatus = "in-progress"
)

// TimelineStatusForProject translates the projects vocabulary into the
// timeline vocabulary.
func TimelineStatusForProject(s ProjectStatus) TimelineStatus {
	switch s {
	case ProjectOnHold, ProjectCancelled:
		return TimelineArchived
	case ProjectCompleted:
		return TimelineCompleted
	case ProjectPlanning:
		return TimelinePlanning
	default:
		return TimelineActive
	}
}

// ProjectStatusForTimeline is the inverse of TimelineStatusForProject.
// "archived" cannot tell on-hold from cancelled and maps to on-hold.
func ProjectStatusForTimeline(s TimelineStatus) ProjectStatus {
	switch s {
	case TimelineArchived:
		return ProjectOnHold
	case TimelineCompleted:
		return ProjectCompleted
	case TimelinePlanning, TimelineNotStarted:
		return ProjectPlanning
	default:
		return ProjectActive
	}
}
