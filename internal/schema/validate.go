package schema

import (
	"fmt"
	"sort"

	"github.com/alexanderramin/dayplan/internal/domain"
)

// Mode selects insert or partial-update semantics.
type Mode int

const (
	// ModeInsert requires every required field.
	ModeInsert Mode = iota
	// ModeUpdate lets required fields be absent; present ones must be valid.
	ModeUpdate
)

// ValidationError describes why a record was rejected.
type ValidationError struct {
	Collection string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Collection, e.Reason)
	}
	return fmt.Sprintf("%s.%s: %s", e.Collection, e.Field, e.Reason)
}

// Result is the outcome of a successful validation.
type Result struct {
	Record domain.Record
	// Dropped lists optional fields removed because they could not be
	// coerced, sorted.
	Dropped []string
}

// Check validates rec against the schema of target. The input is never
// modified; the returned record is a repaired copy. Invalid required
// fields reject the record, invalid optional fields are dropped and
// fields without a schema entry pass through untouched.
func Check(target domain.Target, rec domain.Record, mode Mode) (Result, error) {
	s, ok := Lookup(target)
	if !ok {
		return Result{}, &ValidationError{Collection: target.String(), Reason: "no schema for collection"}
	}
	if rec == nil {
		return Result{}, &ValidationError{Collection: s.Key, Reason: "record is empty"}
	}

	out := rec.Clone()
	var dropped []string
	for _, f := range s.Fields {
		v, present := out[f.Name]
		if !present || v == nil {
			if f.Required && mode == ModeInsert {
				return Result{}, &ValidationError{Collection: s.Key, Field: f.Name, Reason: "required field missing"}
			}
			if f.Required && present {
				return Result{}, &ValidationError{Collection: s.Key, Field: f.Name, Reason: "required field is null"}
			}
			continue
		}
		if f.Required && f.Kind == KindString {
			if str, ok := v.(string); ok && str == "" {
				return Result{}, &ValidationError{Collection: s.Key, Field: f.Name, Reason: "required field is empty"}
			}
		}
		coerced, err := coerce(f, v)
		if err != nil {
			if f.Required {
				return Result{}, &ValidationError{Collection: s.Key, Field: f.Name, Reason: err.Error()}
			}
			delete(out, f.Name)
			dropped = append(dropped, f.Name)
			continue
		}
		out[f.Name] = coerced
	}

	if mode == ModeInsert {
		if s.AutoID && out.ID() == "" {
			out["id"] = domain.NewRecordID(s.IDPrefix)
		}
		for k, v := range s.Defaults {
			if cur, ok := out[k]; !ok || cur == nil {
				out[k] = v
			}
		}
	}

	sort.Strings(dropped)
	return Result{Record: out, Dropped: dropped}, nil
}

// Validate is Check without the detail: it returns the repaired record or
// a *ValidationError.
func Validate(target domain.Target, rec domain.Record, mode Mode) (domain.Record, error) {
	res, err := Check(target, rec, mode)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// Rejection records why the record at Index was dropped.
type Rejection struct {
	Index int
	Err   error
}

// ValidateAll validates each record and returns the repaired survivors in
// their original order, plus one Rejection per dropped record.
func ValidateAll(target domain.Target, records []domain.Record, mode Mode) ([]domain.Record, []Rejection) {
	kept := make([]domain.Record, 0, len(records))
	var rejected []Rejection
	for i, r := range records {
		v, err := Validate(target, r, mode)
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, Err: err})
			continue
		}
		kept = append(kept, v)
	}
	return kept, rejected
}
