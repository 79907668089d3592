package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one item of a collection. Values are JSON-compatible.
type Record map[string]any

// ID returns the record's id, or "" when absent or not a string.
func (r Record) ID() string {
	s, _ := r["id"].(string)
	return s
}

// String returns the named field as a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Bool returns the named field as a bool; absent or non-bool is false.
func (r Record) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// Matches reports whether every field in query equals the record's value.
// Numbers compare by value regardless of Go numeric type.
func (r Record) Matches(query map[string]any) bool {
	for k, want := range query {
		got, ok := r[k]
		if !ok || !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// Merge copies the fields of patch into a clone of r.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// ValuesEqual compares two JSON-compatible values, treating all numeric
// kinds as float64.
func ValuesEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		fb, ok := asFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalize round-trips a value through JSON so that Record and
// map[string]any compare equal.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// NewRecordID generates an id of the form "<prefix>-<unixMillis>-<random>".
func NewRecordID(prefix string) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), random)
}

// Timestamp returns the current UTC time in the ISO-8601 form used for
// createdAt/lastUpdated.
func Timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// RecordsFromAny converts a decoded JSON array into records. Entries that
// are not objects are skipped; the second result counts them.
func RecordsFromAny(v any) ([]Record, int) {
	arr, ok := v.([]any)
	if !ok {
		return nil, 0
	}
	out := make([]Record, 0, len(arr))
	skipped := 0
	for _, e := range arr {
		switch m := e.(type) {
		case map[string]any:
			out = append(out, Record(m))
		case Record:
			out = append(out, m)
		default:
			skipped++
		}
	}
	return out, skipped
}

// RecordsToAny converts records into a JSON-compatible array.
func RecordsToAny(records []Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = map[string]any(r)
	}
	return out
}
