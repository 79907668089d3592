package formatter

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/alexanderramin/dayplan/internal/mutation"
)

// FormatProposal renders a proposal with one line per operation.
func FormatProposal(p *mutation.Proposal) string {
	var b strings.Builder
	b.WriteString(Header("Proposal " + p.ID))
	b.WriteString("\n")
	b.WriteString(Dim("state: ") + string(p.State) + "\n\n")

	rows := make([][]string, 0, len(p.Results))
	for _, r := range p.Results {
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Index+1),
			string(r.Operation.Type),
			r.Operation.Collection,
			describeTarget(r),
			StatusStyle(r.Status).Render(string(r.Status)),
		})
	}
	b.WriteString(RenderTable([]string{"#", "OP", "COLLECTION", "RECORD", "STATUS"}, rows))

	for _, r := range p.Results {
		if r.Error != nil {
			b.WriteString(fmt.Sprintf("  %s %d: %s\n", StyleRed.Render("✗"), r.Index+1, r.Error.Error()))
		}
		for _, rule := range slices.Sorted(maps.Keys(r.PropagationErrors)) {
			b.WriteString(fmt.Sprintf("  %s %d: %s: %s\n", StyleYellow.Render("!"), r.Index+1, rule, r.PropagationErrors[rule]))
		}
	}

	if p.State != mutation.ProposalPending {
		b.WriteString("\n" + summaryLine(p) + "\n")
	}
	return b.String()
}

func describeTarget(r mutation.OperationResult) string {
	if id := r.Record.ID(); id != "" {
		return id
	}
	if r.Operation.ID != "" {
		return r.Operation.ID
	}
	if len(r.Operation.Query) > 0 {
		parts := make([]string, 0, len(r.Operation.Query))
		for _, k := range slices.Sorted(maps.Keys(r.Operation.Query)) {
			parts = append(parts, fmt.Sprintf("%s=%v", k, r.Operation.Query[k]))
		}
		return strings.Join(parts, ",")
	}
	if t, ok := r.Operation.Data["title"].(string); ok {
		return t
	}
	return "-"
}

func summaryLine(p *mutation.Proposal) string {
	applied := p.Count(mutation.StatusApplied)
	failed := p.Count(mutation.StatusFailed)
	invalid := p.Count(mutation.StatusInvalid)
	rejected := p.Count(mutation.StatusRejected)
	line := fmt.Sprintf("%d applied, %d failed, %d invalid, %d rejected", applied, failed, invalid, rejected)
	if failed+invalid > 0 {
		return StyleYellow.Render(line)
	}
	return StyleGreen.Render(line)
}

// FormatMismatches renders verification mismatches, or a confirmation
// when there are none.
func FormatMismatches(ms []mutation.Mismatch) string {
	if len(ms) == 0 {
		return StyleGreen.Render("✓ every applied change is stored") + "\n"
	}
	var b strings.Builder
	for _, m := range ms {
		b.WriteString(fmt.Sprintf("  %s %d: %s\n", StyleRed.Render("✗"), m.Index+1, m.Reason))
	}
	return b.String()
}
