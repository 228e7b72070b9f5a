// Package coerce reads loosely typed JSON values (as produced by
// encoding/json into interface{}) with documented fallbacks instead of errors.
package coerce

import (
	"math"
	"strconv"
	"strings"
)

// Map returns v as a JSON object, or nil if it is anything else.
func Map(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

// Slice returns v as a JSON array, or nil if it is anything else.
func Slice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

// String converts v to a string. Empty strings, zero, false, null,
// objects and arrays yield def.
func String(v interface{}, def string) string {
	switch val := v.(type) {
	case string:
		if val != "" {
			return val
		}
	case float64:
		if val != 0 && !math.IsNaN(val) {
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
	case int:
		if val != 0 {
			return strconv.Itoa(val)
		}
	case bool:
		if val {
			return "true"
		}
	}
	return def
}

// Field reads key from m through String.
func Field(m map[string]interface{}, key, def string) string {
	if m == nil {
		return def
	}
	return String(m[key], def)
}

// FirstField returns the first key of m holding a usable string.
func FirstField(m map[string]interface{}, def string, keys ...string) string {
	for _, key := range keys {
		if s := Field(m, key, ""); s != "" {
			return s
		}
	}
	return def
}

// Int converts integral numbers and numeric strings. Anything else,
// including null and fractional values, reports false.
func Int(v interface{}) (int, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) || val != math.Trunc(val) {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return Int(f)
	}
	return 0, false
}

// StringList accepts an array of values or a comma-separated string.
// Entries are trimmed and blanks dropped. The result is never nil.
func StringList(v interface{}) []string {
	out := []string{}
	switch val := v.(type) {
	case []interface{}:
		for _, item := range val {
			s := strings.TrimSpace(scalar(item))
			if s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, item := range val {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(val, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// scalar stringifies list members, including zero and false.
func scalar(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}
