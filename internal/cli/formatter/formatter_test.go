package formatter

import (
	"regexp"
	"strings"
	"testing"

	"github.com/alexanderramin/dayplan/internal/diagnostic"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/mutation"
	"github.com/stretchr/testify/assert"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func TestRenderTable_AlignsColumns(t *testing.T) {
	out := stripANSI(RenderTable([]string{"ID", "TITLE"}, [][]string{
		{"task-1", "Buy milk"},
		{"task-22", StyleRed.Render("Styled")},
	}))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "ID       TITLE", lines[0])
	assert.Equal(t, "task-1   Buy milk", lines[2])
	assert.Equal(t, "task-22  Styled", lines[3])
}

func TestRenderTable_TruncatesWideCells(t *testing.T) {
	out := stripANSI(RenderTable([]string{"X"}, [][]string{{strings.Repeat("a", 100)}}))
	assert.Contains(t, out, strings.Repeat("a", maxColWidth-1)+"…")
	assert.NotContains(t, out, strings.Repeat("a", maxColWidth))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc…", Truncate("abcdefgh", 4))
	assert.Equal(t, "abcdefgh", Truncate("abcdefgh", 0))
}

func TestFormatReport(t *testing.T) {
	healthy := stripANSI(FormatReport("Diagnostic", diagnostic.Report{
		Success: true,
		Data:    domain.DefaultPlannerData(),
	}))
	assert.Contains(t, healthy, "DIAGNOSTIC")
	assert.Contains(t, healthy, "plannerData is healthy")
	assert.Contains(t, healthy, "0 block(s)")

	repaired := stripANSI(FormatReport("Diagnostic", diagnostic.Report{
		Success: true,
		Issues:  []string{"block bad has no end time"},
		Fixed:   []string{"removed invalid block bad"},
	}))
	assert.Contains(t, repaired, "1 issue(s), 1 repair(s)")
	assert.Contains(t, repaired, "removed invalid block bad")

	failed := stripANSI(FormatReport("Diagnostic", diagnostic.Report{Issues: []string{"storage is unavailable"}}))
	assert.Contains(t, failed, "could not run")
}

func TestFormatRecords(t *testing.T) {
	assert.Contains(t, stripANSI(FormatRecords("tasks", nil)), "No records in tasks.")

	out := stripANSI(FormatRecords("contacts", []domain.Record{
		{"id": "contact-1", "name": "Ada", "createdAt": "2026-01-01T00:00:00Z"},
	}))
	assert.Contains(t, out, "contact-1")
	assert.Contains(t, out, "Ada")
	assert.Contains(t, out, "2026-01-01T00:00:00Z")
}

func TestFormatProposal(t *testing.T) {
	p := &mutation.Proposal{
		ID:    "prop-1",
		State: mutation.ProposalApproved,
		Results: []mutation.OperationResult{
			{
				Index:     0,
				Operation: mutation.Operation{Type: mutation.OpAdd, Collection: "tasks", Data: map[string]any{"title": "Buy milk"}},
				Status:    mutation.StatusApplied,
				Record:    domain.Record{"id": "task-9", "title": "Buy milk"},
			},
			{
				Index:     1,
				Operation: mutation.Operation{Type: mutation.OpUpdate, Collection: "tasks", Query: map[string]any{"title": "Nope"}},
				Status:    mutation.StatusFailed,
				Error:     &mutation.OperationError{Code: mutation.CodeNotFound, Message: "no record matches"},
			},
		},
	}

	out := stripANSI(FormatProposal(p))
	assert.Contains(t, out, "PROPOSAL PROP-1")
	assert.Contains(t, out, "task-9")
	assert.Contains(t, out, "title=Nope")
	assert.Contains(t, out, "NOT_FOUND: no record matches")
	assert.Contains(t, out, "1 applied, 1 failed, 0 invalid, 0 rejected")
}

func TestFormatMismatches(t *testing.T) {
	assert.Contains(t, stripANSI(FormatMismatches(nil)), "every applied change is stored")
	out := stripANSI(FormatMismatches([]mutation.Mismatch{{Index: 2, Reason: "record is not stored"}}))
	assert.Contains(t, out, "3: record is not stored")
}
