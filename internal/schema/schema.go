package schema

import (
	"github.com/alexanderramin/dayplan/internal/domain"
)

// Kind is the declared format of a field.
type Kind int

const (
	KindString Kind = iota
	KindDate        // YYYY-MM-DD
	KindDateTime    // RFC 3339
	KindTime        // HH:MM, 24-hour
	KindNumber
	KindBool
	KindEnum
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindDate:
		return "date (YYYY-MM-DD)"
	case KindDateTime:
		return "ISO date string"
	case KindTime:
		return "time (HH:MM)"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindEnum:
		return "enum"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// Field describes one record field.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
	Enum     []string

	// Bounded numbers must fall within [Min, Max].
	Bounded  bool
	Min, Max float64
}

// Schema is the declarative shape of the records of one target.
type Schema struct {
	Key    string
	Fields []Field

	// AutoID assigns an id with IDPrefix on insert when absent.
	AutoID   bool
	IDPrefix string
	// Defaults fill absent fields on insert.
	Defaults map[string]any
}

// Field returns the named field.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Required returns the names of required fields, in declaration order.
func (s Schema) Required() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

func req(name string, kind Kind) Field { return Field{Name: name, Kind: kind, Required: true} }
func opt(name string, kind Kind) Field { return Field{Name: name, Kind: kind} }

func enum(name string, required bool, values ...string) Field {
	return Field{Name: name, Kind: KindEnum, Required: required, Enum: values}
}

func bounded(name string, min, max float64) Field {
	return Field{Name: name, Kind: KindNumber, Bounded: true, Min: min, Max: max}
}

var stamps = []Field{opt("createdAt", KindDateTime), opt("lastUpdated", KindDateTime)}

func fields(fs ...Field) []Field {
	return append(append([]Field{opt("id", KindString)}, fs...), stamps...)
}

var priorities = []string{string(domain.PriorityLow), string(domain.PriorityMedium), string(domain.PriorityHigh)}

var projectStatuses = []string{
	string(domain.ProjectPlanning), string(domain.ProjectActive), string(domain.ProjectOnHold),
	string(domain.ProjectCompleted), string(domain.ProjectCancelled),
}

var timelineStatuses = []string{
	string(domain.TimelinePlanning), string(domain.TimelineActive), string(domain.TimelineArchived),
	string(domain.TimelineCompleted), string(domain.TimelineNotStarted), string(domain.TimelineInProgress),
}

var table = map[string]Schema{
	"tasks": {Fields: fields(
		req("title", KindString),
		opt("description", KindString),
		enum("priority", false, priorities...),
		opt("dueDate", KindDate),
		opt("completed", KindBool),
		opt("category", KindString),
		opt("projectId", KindString),
		opt("tags", KindArray),
	)},
	"notes": {Fields: fields(
		req("title", KindString),
		opt("content", KindString),
		opt("pinned", KindBool),
		opt("tags", KindArray),
	)},
	"bookmarks": {Fields: fields(
		req("url", KindString),
		opt("title", KindString),
		opt("description", KindString),
		opt("tags", KindArray),
	)},
	"passwordEntries": {Fields: fields(
		req("site", KindString),
		opt("username", KindString),
		opt("password", KindString),
		opt("url", KindString),
		opt("notes", KindString),
	)},
	"knowledgeItems": {Fields: fields(
		req("title", KindString),
		opt("content", KindString),
		opt("category", KindString),
		opt("tags", KindArray),
	)},
	"codeSnippets": {Fields: fields(
		req("title", KindString),
		opt("code", KindString),
		opt("language", KindString),
		opt("tags", KindArray),
	)},
	"workoutHistory": {Fields: fields(
		req("date", KindDate),
		opt("type", KindString),
		bounded("duration", 0, 24*60),
		opt("exercises", KindArray),
		opt("notes", KindString),
	)},
	"contacts": {Fields: fields(
		req("name", KindString),
		opt("email", KindString),
		opt("phone", KindString),
		opt("company", KindString),
		opt("tags", KindArray),
	)},
	"markdownDocuments": {Fields: fields(
		req("title", KindString),
		opt("content", KindString),
		opt("tags", KindArray),
	)},
	"countdownTimers": {Fields: fields(
		req("title", KindString),
		req("targetDate", KindDate),
		opt("sourceTaskId", KindString),
		opt("description", KindString),
	)},
	"flashcards": {Fields: fields(
		req("front", KindString),
		req("back", KindString),
		opt("deck", KindString),
		bounded("reviewCount", 0, 1e9),
		opt("nextReview", KindDate),
	)},
	"assignments": {Fields: fields(
		req("title", KindString),
		opt("course", KindString),
		opt("dueDate", KindDate),
		enum("priority", false, priorities...),
		opt("completed", KindBool),
	)},
	"projects": {
		Fields: fields(
			req("name", KindString),
			opt("description", KindString),
			enum("status", false, projectStatuses...),
			opt("startDate", KindDate),
			opt("endDate", KindDate),
			bounded("progress", 0, 100),
			opt("color", KindString),
		),
		AutoID:   true,
		IDPrefix: "project",
		Defaults: map[string]any{"status": string(domain.ProjectActive)},
	},
	"meetings": {Fields: fields(
		req("title", KindString),
		req("date", KindDate),
		req("startTime", KindTime),
		req("endTime", KindTime),
		opt("location", KindString),
		opt("attendees", KindArray),
		opt("notes", KindString),
	)},
	"clients": {Fields: fields(
		req("name", KindString),
		opt("email", KindString),
		opt("company", KindString),
		bounded("rate", 0, 1e9),
	)},
	"citations": {Fields: fields(
		req("title", KindString),
		opt("authors", KindArray),
		bounded("year", 0, 9999),
		opt("url", KindString),
		opt("publisher", KindString),
	)},
	"plannerData.blocks": {Fields: fields(
		req("title", KindString),
		req("date", KindDate),
		req("startTime", KindTime),
		req("endTime", KindTime),
		opt("category", KindString),
		opt("color", KindString),
		opt("completed", KindBool),
		opt("notes", KindString),
		opt("sourceId", KindString),
		opt("type", KindString),
	)},
	"ganttData.tasks": {Fields: fields(
		req("name", KindString),
		opt("startDate", KindDate),
		opt("endDate", KindDate),
		bounded("progress", 0, 100),
		bounded("priority", 1, 3),
		enum("status", false, timelineStatuses...),
		opt("projectId", KindString),
		opt("dependencies", KindArray),
	)},
	"ganttData.projects": {Fields: fields(
		req("name", KindString),
		enum("status", false, timelineStatuses...),
		opt("startDate", KindDate),
		opt("endDate", KindDate),
		bounded("progress", 0, 100),
		opt("color", KindString),
		opt("description", KindString),
	)},
	"mealPlannerData.meals": {Fields: fields(
		req("name", KindString),
		opt("date", KindDate),
		enum("mealType", false, "breakfast", "lunch", "dinner", "snack"),
		bounded("calories", 0, 1e6),
		opt("ingredients", KindArray),
	)},
	"financeData.transactions": {Fields: fields(
		req("amount", KindNumber),
		req("date", KindDate),
		enum("type", false, "income", "expense"),
		opt("description", KindString),
		opt("category", KindString),
	)},
	"billingData.invoices": {Fields: fields(
		req("amount", KindNumber),
		opt("clientId", KindString),
		enum("status", false, "draft", "sent", "paid", "overdue"),
		opt("issueDate", KindDate),
		opt("dueDate", KindDate),
		opt("items", KindArray),
	)},
}

func init() {
	for k, s := range table {
		s.Key = k
		table[k] = s
	}
}

// Lookup returns the record schema for a target.
func Lookup(t domain.Target) (Schema, bool) {
	s, ok := table[t.SchemaKey()]
	return s, ok
}
