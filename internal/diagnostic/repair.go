package diagnostic

import (
	"fmt"

	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/alexanderramin/dayplan/internal/schema"
)

// Repair restores a parsed plannerData object to structural validity. It
// replaces only the broken pieces: a bad blocks array, a bad settings or
// stats object, individual numeric fields, individual blocks. With deep
// set, null block entries are counted and removed as their own repair
// before per-block validation. obj is not modified.
func Repair(obj map[string]any, deep bool) (data map[string]any, issues, fixed []string) {
	issues, fixed = []string{}, []string{}
	data = make(map[string]any, len(obj))
	for k, v := range obj {
		data[k] = v
	}

	blocks, ok := obj["blocks"].([]any)
	if !ok {
		issues = append(issues, "blocks property is missing or not an array")
		fixed = append(fixed, "reset blocks to an empty array")
		blocks = []any{}
	}

	settings, i, f := repairNumericObject("settings", obj["settings"], domain.PlannerSettingsFields)
	data["settings"] = settings
	issues, fixed = append(issues, i...), append(fixed, f...)

	stats, i, f := repairNumericObject("stats", obj["stats"], domain.PlannerStatsFields)
	data["stats"] = stats
	issues, fixed = append(issues, i...), append(fixed, f...)

	if deep {
		var nulls int
		blocks, nulls = dropNulls(blocks)
		if nulls > 0 {
			issues = append(issues, fmt.Sprintf("blocks contains %d null entries", nulls))
			fixed = append(fixed, fmt.Sprintf("removed %d null entries from blocks", nulls))
		}
	}

	kept, i, f := repairBlocks(blocks)
	data["blocks"] = kept
	issues, fixed = append(issues, i...), append(fixed, f...)
	return data, issues, fixed
}

func dropNulls(blocks []any) ([]any, int) {
	out := make([]any, 0, len(blocks))
	for _, b := range blocks {
		if b != nil {
			out = append(out, b)
		}
	}
	return out, len(blocks) - len(out)
}

func repairNumericObject(name string, v any, fields []domain.NumericField) (map[string]any, []string, []string) {
	var issues, fixed []string
	obj, ok := v.(map[string]any)
	if !ok {
		issues = append(issues, fmt.Sprintf("%s property is missing or not an object", name))
		fixed = append(fixed, fmt.Sprintf("restored default %s", name))
		out := make(map[string]any, len(fields))
		for _, nf := range fields {
			out[nf.Name] = nf.Default
		}
		return out, issues, fixed
	}

	out := make(map[string]any, len(obj))
	for k, val := range obj {
		out[k] = val
	}
	for _, nf := range fields {
		n, isNum := obj[nf.Name].(float64)
		switch {
		case !isNum:
			issues = append(issues, fmt.Sprintf("%s.%s is missing or not a number", name, nf.Name))
		case !nf.InRange(n):
			issues = append(issues, fmt.Sprintf("%s.%s value %v is out of range [%v, %v]", name, nf.Name, n, nf.Min, nf.Max))
		default:
			continue
		}
		out[nf.Name] = nf.Default
		fixed = append(fixed, fmt.Sprintf("set %s.%s to default %v", name, nf.Name, nf.Default))
	}
	return out, issues, fixed
}

func repairBlocks(blocks []any) ([]any, []string, []string) {
	var issues, fixed []string
	kept := make([]any, 0, len(blocks))
	for idx, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok {
			issues = append(issues, fmt.Sprintf("block at index %d is not an object", idx))
			fixed = append(fixed, fmt.Sprintf("removed block at index %d", idx))
			continue
		}
		rec := domain.Record(m)
		label := blockLabel(rec, idx)
		// Format checks only; time order is enforced where blocks are written,
		// so stored overnight blocks are kept.
		valid, err := schema.Validate(domain.TargetPlannerBlocks, rec, schema.ModeInsert)
		if err != nil {
			issues = append(issues, fmt.Sprintf("block %s is invalid: %v", label, err))
			fixed = append(fixed, fmt.Sprintf("removed invalid block %s", label))
			continue
		}
		if !domain.ValuesEqual(map[string]any(valid), m) {
			issues = append(issues, fmt.Sprintf("block %s has non-normalized fields", label))
			fixed = append(fixed, fmt.Sprintf("normalized block %s", label))
		}
		kept = append(kept, map[string]any(valid))
	}
	return kept, issues, fixed
}

func blockLabel(rec domain.Record, idx int) string {
	if id := rec.ID(); id != "" {
		return id
	}
	return fmt.Sprintf("#%d", idx)
}
