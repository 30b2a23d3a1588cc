package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are the text forms a timestamp may come back in. Backends
// that store timestamps as text return whatever was written.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Normalize converts v to the Go form of f's output type: float64 for
// numbers, bool for checkboxes, UTC time.Time for dates, []string for
// linked record lists and string for everything else. nil stays nil,
// except that a Number rollup over no rows is 0.
func Normalize(f Field, v any) (any, error) {
	out := OutputType(f)
	if v == nil {
		if _, ok := f.(Rollup); ok && out == TypeNumber {
			return 0.0, nil
		}
		if out == TypeMultipleLinkedRecord {
			return []string{}, nil
		}
		return nil, nil
	}

	var (
		res any
		ok  bool
	)
	switch out {
	case TypeNumber:
		res, ok = toFloat(v)
	case TypeCheckbox:
		res, ok = toBool(v)
	case TypeDateTime:
		res, ok = toTime(v)
	case TypeMultipleLinkedRecord:
		res, ok = toIDs(v)
	case TypeSingleLineText, TypeLongText, TypeEmail, TypeSingleSelect, TypeSingleLinkedRecord:
		res, ok = toText(v)
	default:
		return nil, &InvalidFieldTypeError{Field: f.FieldName(), Got: string(out)}
	}
	if !ok {
		return nil, &InvalidFieldTypeError{
			Field: f.FieldName(),
			Want:  string(out),
			Got:   fmt.Sprintf("%T", v),
		}
	}
	return res, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case []byte:
		return toFloat(string(n))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, true
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	case []byte:
		return toBool(string(b))
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		return p, err == nil
	}
	return false, false
}

// ParseTime parses a timestamp in any of the text forms backends and
// formulas produce. The result is in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case []byte:
		return toTime(string(t))
	case string:
		p, err := ParseTime(t)
		return p, err == nil
	}
	return time.Time{}, false
}

// toIDs accepts a slice of ids or the comma-joined form views aggregate
// linked ids into.
func toIDs(v any) ([]string, bool) {
	switch ids := v.(type) {
	case []string:
		return append([]string{}, ids...), true
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			s, ok := id.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case []byte:
		return toIDs(string(ids))
	case string:
		if ids == "" {
			return []string{}, true
		}
		return strings.Split(ids, ","), true
	}
	return nil, false
}

func toText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	case int64, float64, bool:
		return fmt.Sprint(s), true
	}
	return "", false
}
