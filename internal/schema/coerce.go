package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var hhmm = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// IsTime reports whether s is a well-formed 24-hour HH:MM time.
func IsTime(s string) bool {
	return hhmm.MatchString(s)
}

// IsDate reports whether s is a valid YYYY-MM-DD date.
func IsDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil && len(s) == len(dateLayout)
}

// naturalLayouts are tried in order for date-like input that is neither
// YYYY-MM-DD nor RFC 3339.
var naturalLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Mon, 02 Jan 2006 15:04:05 MST",
	"Mon Jan 2 2006",
	time.RFC1123Z,
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty date")
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
		if ts, err := time.Parse(dateLayout, s); err == nil {
			return ts, nil
		}
		for _, layout := range naturalLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", s)
	case float64:
		return fromMillis(t)
	case int:
		return fromMillis(float64(t))
	case int64:
		return fromMillis(float64(t))
	}
	return time.Time{}, fmt.Errorf("expected a date, got %T", v)
}

func fromMillis(ms float64) (time.Time, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return time.Time{}, fmt.Errorf("invalid epoch value %v", ms)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func coerceDate(v any) (any, error) {
	if s, ok := v.(string); ok && IsDate(s) {
		return s, nil
	}
	ts, err := parseTimestamp(v)
	if err != nil {
		return nil, err
	}
	return ts.Format(dateLayout), nil
}

func coerceDateTime(v any) (any, error) {
	if s, ok := v.(string); ok {
		if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return s, nil
		}
	}
	ts, err := parseTimestamp(v)
	if err != nil {
		return nil, err
	}
	return ts.UTC().Format(time.RFC3339), nil
}

var timeLayouts = []string{"15:04", "15:04:05", "3:04PM", "3:04 PM", "3PM", "3 PM", "3:04pm", "3:04 pm", "3pm", "3 pm"}

func coerceTime(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected HH:MM, got %T", v)
	}
	s = strings.TrimSpace(s)
	if IsTime(s) {
		return s, nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Format("15:04"), nil
		}
	}
	// Single-digit hours such as "9:30".
	if h, m, ok := strings.Cut(s, ":"); ok && len(h) == 1 && len(m) == 2 {
		if padded := "0" + s; IsTime(padded) {
			return padded, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q (expected HH:MM)", s)
}

func coerceNumber(v any) (any, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", n)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", n)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("expected a number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number must be finite")
	}
	return f, nil
}

func coerceBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", b)
	}
	if n, err := coerceNumber(v); err == nil {
		switch n.(float64) {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	}
	return nil, fmt.Errorf("expected a boolean, got %v", v)
}

func coerceString(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(s), nil
	case bool:
		return strconv.FormatBool(s), nil
	}
	return nil, fmt.Errorf("expected a string, got %T", v)
}

func coerceEnum(v any, allowed []string) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected one of %s, got %T", strings.Join(allowed, "|"), v)
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "-", "_", "-").Replace(norm)
	for _, a := range allowed {
		if norm == a {
			return a, nil
		}
	}
	return nil, fmt.Errorf("invalid value %q (expected one of %s)", s, strings.Join(allowed, "|"))
}

func coerceArray(v any) (any, error) {
	switch a := v.(type) {
	case []any:
		return a, nil
	case []string:
		out := make([]any, len(a))
		for i, s := range a {
			out[i] = s
		}
		return out, nil
	case string:
		s := strings.TrimSpace(a)
		if strings.HasPrefix(s, "[") {
			var out []any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out, nil
			}
		}
		return nil, fmt.Errorf("invalid array %q", a)
	}
	return nil, fmt.Errorf("expected an array, got %T", v)
}

func coerceObject(v any) (any, error) {
	switch o := v.(type) {
	case map[string]any:
		return o, nil
	case string:
		s := strings.TrimSpace(o)
		if strings.HasPrefix(s, "{") {
			var out map[string]any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out, nil
			}
		}
		return nil, fmt.Errorf("invalid object %q", o)
	}
	return nil, fmt.Errorf("expected an object, got %T", v)
}

// coerce converts v to the field's declared format.
func coerce(f Field, v any) (any, error) {
	var (
		out any
		err error
	)
	switch f.Kind {
	case KindString:
		out, err = coerceString(v)
	case KindDate:
		out, err = coerceDate(v)
	case KindDateTime:
		out, err = coerceDateTime(v)
	case KindTime:
		out, err = coerceTime(v)
	case KindNumber:
		out, err = coerceNumber(v)
	case KindBool:
		out, err = coerceBool(v)
	case KindEnum:
		out, err = coerceEnum(v, f.Enum)
	case KindArray:
		out, err = coerceArray(v)
	case KindObject:
		out, err = coerceObject(v)
	default:
		return nil, fmt.Errorf("unsupported field kind %d", f.Kind)
	}
	if err != nil {
		return nil, err
	}
	if f.Kind == KindNumber && f.Bounded {
		n := out.(float64)
		if n < f.Min || n > f.Max {
			return nil, fmt.Errorf("%v out of range [%v, %v]", n, f.Min, f.Max)
		}
	}
	return out, nil
}
