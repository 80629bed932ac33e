package docstore

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Fields is the data of a document. Accessors never fail: a missing or
// mistyped field reads as the zero value.
type Fields map[string]any

// String returns the string value of key.
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// Int64 returns the integer value of key. Fractions are truncated.
func (f Fields) Int64(key string) int64 {
	switch v := f[key].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if fl, err := v.Float64(); err == nil {
			return int64(fl)
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// Bool returns the boolean value of key.
func (f Fields) Bool(key string) bool {
	v, _ := f[key].(bool)
	return v
}

// Time returns the timestamp stored at key, or the zero time.
func (f Fields) Time(key string) time.Time {
	switch v := f[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(TimeLayout, v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// normalize converts values to the form they are stored in.
func normalize(fields Fields) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(TimeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(TimeLayout)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	}
	return v
}
