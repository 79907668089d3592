package testutil

import (
	"github.com/alexanderramin/dayplan/internal/domain"
)

// RecordOption customizes a fixture record.
type RecordOption func(domain.Record)

// WithField sets an arbitrary field.
func WithField(name string, v any) RecordOption {
	return func(r domain.Record) {
		r[name] = v
	}
}

// WithID sets the record id.
func WithID(id string) RecordOption {
	return WithField("id", id)
}

// WithPriority sets a task priority.
func WithPriority(p domain.Priority) RecordOption {
	return WithField("priority", string(p))
}

// WithDueDate sets a task due date (YYYY-MM-DD).
func WithDueDate(d string) RecordOption {
	return WithField("dueDate", d)
}

// WithStatus sets a status field.
func WithStatus(s string) RecordOption {
	return WithField("status", s)
}

func apply(r domain.Record, opts []RecordOption) domain.Record {
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewTestTask returns a valid task record with a generated id.
func NewTestTask(title string, opts ...RecordOption) domain.Record {
	r := domain.Record{
		"id":        domain.NewRecordID("task"),
		"title":     title,
		"priority":  string(domain.PriorityMedium),
		"completed": false,
		"createdAt": domain.Timestamp(),
	}
	return apply(r, opts)
}

// NewTestProject returns a valid project record.
func NewTestProject(name string, opts ...RecordOption) domain.Record {
	r := domain.Record{
		"id":        domain.NewRecordID("project"),
		"name":      name,
		"status":    string(domain.ProjectActive),
		"startDate": "2025-01-06",
		"endDate":   "2025-03-31",
		"createdAt": domain.Timestamp(),
	}
	return apply(r, opts)
}

// NewTestMeeting returns a valid meeting record.
func NewTestMeeting(title string, opts ...RecordOption) domain.Record {
	r := domain.Record{
		"id":        domain.NewRecordID("meeting"),
		"title":     title,
		"date":      "2025-02-10",
		"startTime": "09:30",
		"endTime":   "10:15",
		"createdAt": domain.Timestamp(),
	}
	return apply(r, opts)
}

// NewTestBlock returns a valid planner block.
func NewTestBlock(title string, opts ...RecordOption) domain.Record {
	r := domain.Record{
		"id":        domain.NewRecordID("block"),
		"title":     title,
		"date":      "2025-02-10",
		"startTime": "13:00",
		"endTime":   "14:00",
		"completed": false,
	}
	return apply(r, opts)
}
