package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Collection is the storage key of a collection. The set is closed: every
// valid tag has a Descriptor.
type Collection string

const (
	CollectionTasks             Collection = "tasks"
	CollectionNotes             Collection = "notes"
	CollectionBookmarks         Collection = "bookmarks"
	CollectionPasswordEntries   Collection = "passwordEntries"
	CollectionKnowledgeItems    Collection = "knowledgeItems"
	CollectionCodeSnippets      Collection = "codeSnippets"
	CollectionMealPlanner       Collection = "mealPlannerData"
	CollectionWorkoutHistory    Collection = "workoutHistory"
	CollectionContacts          Collection = "contacts"
	CollectionFinance           Collection = "financeData"
	CollectionMarkdownDocuments Collection = "markdownDocuments"
	CollectionCountdownTimers   Collection = "countdownTimers"
	CollectionFlashcards        Collection = "flashcards"
	CollectionAssignments       Collection = "assignments"
	CollectionProjects          Collection = "projects"
	CollectionMeetings          Collection = "meetings"
	CollectionClients           Collection = "clients"
	CollectionBilling           Collection = "billingData"
	CollectionPlanner           Collection = "plannerData"
	CollectionGantt             Collection = "ganttData"
	CollectionCitations         Collection = "citations"
)

// CollectionKind distinguishes flat record arrays from singleton objects.
type CollectionKind string

const (
	KindArray     CollectionKind = "array"
	KindSingleton CollectionKind = "singleton"
)

// Descriptor is the static description of a collection.
type Descriptor struct {
	Key      Collection
	Kind     CollectionKind
	IDPrefix string

	// Singleton-only: record arrays nested in the object, the one a bare
	// key refers to, and the default object written on reset.
	RecordFields []string
	PrimaryField string
	Default      func() map[string]any
}

var descriptors = map[Collection]Descriptor{
	CollectionTasks:             {Key: CollectionTasks, Kind: KindArray, IDPrefix: "task"},
	CollectionNotes:             {Key: CollectionNotes, Kind: KindArray, IDPrefix: "note"},
	CollectionBookmarks:         {Key: CollectionBookmarks, Kind: KindArray, IDPrefix: "bookmark"},
	CollectionPasswordEntries:   {Key: CollectionPasswordEntries, Kind: KindArray, IDPrefix: "pwd"},
	CollectionKnowledgeItems:    {Key: CollectionKnowledgeItems, Kind: KindArray, IDPrefix: "knowledge"},
	CollectionCodeSnippets:      {Key: CollectionCodeSnippets, Kind: KindArray, IDPrefix: "snippet"},
	CollectionWorkoutHistory:    {Key: CollectionWorkoutHistory, Kind: KindArray, IDPrefix: "workout"},
	CollectionContacts:          {Key: CollectionContacts, Kind: KindArray, IDPrefix: "contact"},
	CollectionMarkdownDocuments: {Key: CollectionMarkdownDocuments, Kind: KindArray, IDPrefix: "doc"},
	CollectionCountdownTimers:   {Key: CollectionCountdownTimers, Kind: KindArray, IDPrefix: "countdown"},
	CollectionFlashcards:        {Key: CollectionFlashcards, Kind: KindArray, IDPrefix: "flashcard"},
	CollectionAssignments:       {Key: CollectionAssignments, Kind: KindArray, IDPrefix: "assignment"},
	CollectionProjects:          {Key: CollectionProjects, Kind: KindArray, IDPrefix: "project"},
	CollectionMeetings:          {Key: CollectionMeetings, Kind: KindArray, IDPrefix: "meeting"},
	CollectionClients:           {Key: CollectionClients, Kind: KindArray, IDPrefix: "client"},
	CollectionCitations:         {Key: CollectionCitations, Kind: KindArray, IDPrefix: "citation"},

	CollectionPlanner: {
		Key: CollectionPlanner, Kind: KindSingleton, IDPrefix: "block",
		RecordFields: []string{"blocks"}, PrimaryField: "blocks",
		Default: DefaultPlannerData,
	},
	CollectionGantt: {
		Key: CollectionGantt, Kind: KindSingleton, IDPrefix: "gantt",
		RecordFields: []string{"tasks", "projects"}, PrimaryField: "tasks",
		Default: func() map[string]any {
			return map[string]any{"tasks": []any{}, "projects": []any{}}
		},
	},
	CollectionMealPlanner: {
		Key: CollectionMealPlanner, Kind: KindSingleton, IDPrefix: "meal",
		RecordFields: []string{"meals"}, PrimaryField: "meals",
		Default: func() map[string]any {
			return map[string]any{"meals": []any{}, "preferences": map[string]any{}}
		},
	},
	CollectionFinance: {
		Key: CollectionFinance, Kind: KindSingleton, IDPrefix: "txn",
		RecordFields: []string{"transactions"}, PrimaryField: "transactions",
		Default: func() map[string]any {
			return map[string]any{"transactions": []any{}, "budgets": map[string]any{}}
		},
	},
	CollectionBilling: {
		Key: CollectionBilling, Kind: KindSingleton, IDPrefix: "invoice",
		RecordFields: []string{"invoices"}, PrimaryField: "invoices",
		Default: func() map[string]any {
			return map[string]any{"invoices": []any{}, "settings": map[string]any{}}
		},
	},
}

// Describe returns the descriptor for c.
func Describe(c Collection) (Descriptor, bool) {
	d, ok := descriptors[c]
	return d, ok
}

// AllCollections returns every known collection key, sorted.
func AllCollections() []Collection {
	out := make([]Collection, 0, len(descriptors))
	for c := range descriptors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsValidCollection reports whether c is a known collection key.
func IsValidCollection(c Collection) bool {
	_, ok := descriptors[c]
	return ok
}

// DefaultValue returns the value a collection is reset to: an empty array
// for array collections, the descriptor default for singletons.
func (d Descriptor) DefaultValue() any {
	if d.Kind == KindSingleton && d.Default != nil {
		return d.Default()
	}
	return []any{}
}

// Target addresses a record array: either an array collection or a record
// field nested inside a singleton.
type Target struct {
	Collection Collection
	Field      string // empty for array collections
}

// String renders the target as "<collection>" or "<collection>.<field>".
func (t Target) String() string {
	if t.Field == "" {
		return string(t.Collection)
	}
	return string(t.Collection) + "." + t.Field
}

// SchemaKey is the tag used to look up the record schema for a target.
func (t Target) SchemaKey() string {
	return t.String()
}

// Common targets used across packages.
var (
	TargetTasks            = Target{Collection: CollectionTasks}
	TargetProjects         = Target{Collection: CollectionProjects}
	TargetMeetings         = Target{Collection: CollectionMeetings}
	TargetCountdownTimers  = Target{Collection: CollectionCountdownTimers}
	TargetPlannerBlocks    = Target{Collection: CollectionPlanner, Field: "blocks"}
	TargetTimelineTasks    = Target{Collection: CollectionGantt, Field: "tasks"}
	TargetTimelineProjects = Target{Collection: CollectionGantt, Field: "projects"}
)

// ResolveTarget parses a collection name as used by the mutation wire
// format. Bare singleton keys resolve to the singleton's primary field.
func ResolveTarget(name string) (Target, error) {
	key, field, dotted := strings.Cut(name, ".")
	d, ok := descriptors[Collection(key)]
	if !ok {
		return Target{}, fmt.Errorf("unknown collection %q", key)
	}
	if d.Kind == KindArray {
		if dotted {
			return Target{}, fmt.Errorf("collection %q has no sub-collections", key)
		}
		return Target{Collection: d.Key}, nil
	}
	if !dotted {
		return Target{Collection: d.Key, Field: d.PrimaryField}, nil
	}
	for _, f := range d.RecordFields {
		if f == field {
			return Target{Collection: d.Key, Field: field}, nil
		}
	}
	return Target{}, fmt.Errorf("collection %q has no record field %q", key, field)
}
