package formatter

import (
	"fmt"
	"strings"

	"github.com/alexanderramin/dayplan/internal/diagnostic"
	"github.com/alexanderramin/dayplan/internal/domain"
)

// FormatReport renders a planner diagnostic report.
func FormatReport(title string, rep diagnostic.Report) string {
	var b strings.Builder
	b.WriteString(Header(title))
	b.WriteString("\n")

	switch {
	case !rep.Success:
		b.WriteString(StyleRed.Render("✗ diagnostic could not run"))
	case len(rep.Issues) == 0:
		b.WriteString(StyleGreen.Render("✓ plannerData is healthy"))
	default:
		b.WriteString(StyleYellow.Render(fmt.Sprintf("! %d issue(s), %d repair(s)", len(rep.Issues), len(rep.Fixed))))
	}
	b.WriteString("\n")

	for _, issue := range rep.Issues {
		b.WriteString("  " + StyleRed.Render("•") + " " + issue + "\n")
	}
	for _, fix := range rep.Fixed {
		b.WriteString("  " + StyleGreen.Render("↺") + " " + fix + "\n")
	}

	if data, ok := rep.Data.(map[string]any); ok {
		blocks, _ := domain.RecordsFromAny(data["blocks"])
		b.WriteString(Dim(fmt.Sprintf("  %d block(s) in plannerData", len(blocks))) + "\n")
	}
	return b.String()
}

// recordLabel picks the most descriptive text field of a record.
func recordLabel(r domain.Record) string {
	for _, f := range []string{"title", "name", "label", "question", "front"} {
		if s := r.String(f); s != "" {
			return s
		}
	}
	return ""
}

// FormatRecords renders the records of one target as a table.
func FormatRecords(target string, records []domain.Record) string {
	if len(records) == 0 {
		return Dim(fmt.Sprintf("No records in %s.", target)) + "\n"
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		updated := r.String("lastUpdated")
		if updated == "" {
			updated = r.String("createdAt")
		}
		rows = append(rows, []string{r.ID(), recordLabel(r), Dim(updated)})
	}
	return Header(target) + "\n" + RenderTable([]string{"ID", "TITLE", "UPDATED"}, rows)
}
