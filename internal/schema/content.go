package schema

import (
	"github.com/alexanderramin/dayplan/internal/domain"
)

// contentRule is a cross-field check run after field coercion.
type contentRule func(key string, rec domain.Record) error

var contentRules = map[string][]contentRule{
	"plannerData.blocks":       {timeOrder("startTime", "endTime")},
	"meetings":                 {timeOrder("startTime", "endTime")},
	"projects":                 {dateOrder("startDate", "endDate")},
	"ganttData.tasks":          {dateOrder("startDate", "endDate")},
	"ganttData.projects":       {dateOrder("startDate", "endDate")},
	"countdownTimers":          {nonEmpty("title")},
	"financeData.transactions": {nonEmpty("date")},
}

// CheckContent applies the collection's cross-field rules to an already
// validated record. Rules whose fields are absent are skipped, so partial
// updates pass when the fields they do carry are consistent.
func CheckContent(target domain.Target, rec domain.Record) error {
	key := target.SchemaKey()
	for _, rule := range contentRules[key] {
		if err := rule(key, rec); err != nil {
			return err
		}
	}
	return nil
}

func timeOrder(startField, endField string) contentRule {
	return func(key string, rec domain.Record) error {
		start, end := rec.String(startField), rec.String(endField)
		for _, f := range []string{startField, endField} {
			if v, ok := rec[f]; ok {
				if s, isStr := v.(string); !isStr || !IsTime(s) {
					return &ValidationError{Collection: key, Field: f, Reason: "must be a well-formed HH:MM time"}
				}
			}
		}
		if start != "" && end != "" && end <= start {
			return &ValidationError{Collection: key, Field: endField, Reason: "must be after " + startField}
		}
		return nil
	}
}

func dateOrder(startField, endField string) contentRule {
	return func(key string, rec domain.Record) error {
		start, end := rec.String(startField), rec.String(endField)
		if IsDate(start) && IsDate(end) && end < start {
			return &ValidationError{Collection: key, Field: endField, Reason: "must not be before " + startField}
		}
		return nil
	}
}

func nonEmpty(field string) contentRule {
	return func(key string, rec domain.Record) error {
		if v, ok := rec[field]; ok {
			if s, isStr := v.(string); isStr && s == "" {
				return &ValidationError{Collection: key, Field: field, Reason: "must not be empty"}
			}
		}
		return nil
	}
}
