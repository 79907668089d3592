package domain

// NumericField is a required numeric setting with an inclusive valid range.
type NumericField struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
}

// InRange reports whether v lies within the field's bounds.
func (f NumericField) InRange(v float64) bool {
	return v >= f.Min && v <= f.Max
}

// PlannerSettingsFields are the required numeric fields of plannerData.settings.
var PlannerSettingsFields = []NumericField{
	{Name: "workDayStart", Default: 8, Min: 0, Max: 23},
	{Name: "workDayEnd", Default: 18, Min: 1, Max: 24},
	{Name: "slotDuration", Default: 30, Min: 5, Max: 240},
	{Name: "weekStartsOn", Default: 1, Min: 0, Max: 6},
}

// PlannerStatsFields are the required numeric fields of plannerData.stats.
var PlannerStatsFields = []NumericField{
	{Name: "totalBlocks", Default: 0, Min: 0, Max: 1e9},
	{Name: "completedBlocks", Default: 0, Min: 0, Max: 1e9},
	{Name: "focusMinutes", Default: 0, Min: 0, Max: 1e12},
}

// DefaultPlannerSettings returns settings populated with field defaults.
func DefaultPlannerSettings() map[string]any {
	out := make(map[string]any, len(PlannerSettingsFields))
	for _, f := range PlannerSettingsFields {
		out[f.Name] = f.Default
	}
	return out
}

// DefaultPlannerStats returns stats populated with field defaults.
func DefaultPlannerStats() map[string]any {
	out := make(map[string]any, len(PlannerStatsFields))
	for _, f := range PlannerStatsFields {
		out[f.Name] = f.Default
	}
	return out
}

// DefaultPlannerData is the value plannerData is created with and reset to.
func DefaultPlannerData() map[string]any {
	return map[string]any{
		"blocks":   []any{},
		"settings": DefaultPlannerSettings(),
		"stats":    DefaultPlannerStats(),
	}
}
