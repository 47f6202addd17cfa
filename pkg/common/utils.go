// ///////////////////////////////////////////////////////////////////////////
//
// # DVV - Data Vault Validator
//
// Copyright (C) 2024 - 2026, the Data Vault Validation Tool authors
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package common

import (
	"fmt"
	"strings"
	"time"
)

const (
	CheckMark = "✔"
	CrossMark = "✘"
)

// NormalizeNumericString strips insignificant trailing zeros (and a bare
// trailing decimal point) so "3000.00" and "3000" compare equal.
func NormalizeNumericString(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// LooksNumeric reports whether s parses as a plain decimal number.
func LooksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	dot := false
	for _, r := range s {
		if r == '.' {
			if dot {
				return false
			}
			dot = true
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Stringify renders any scanned value the way it participates in key and
// attribute comparison. Times use RFC3339Nano so precision differences
// stay visible to the classifier.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// StringifyKey joins composite key parts into a single comparable string.
func StringifyKey(parts []any) string {
	if len(parts) == 1 {
		return Stringify(parts[0])
	}
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = Stringify(p)
	}
	return strings.Join(strs, "||")
}

// ParseTime tries the timestamp layouts the warehouse emits.
func ParseTime(s string) (time.Time, bool) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999-07",
		"2006-01-02 15:04:05.999999",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsZeroLike reports whether v is a null-equivalent default: nil, empty
// string, zero number or false.
func IsZeroLike(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return true
		}
		return LooksNumeric(trimmed) && NormalizeNumericString(trimmed) == "0"
	case bool:
		return !t
	case int, int32, int64:
		return fmt.Sprintf("%v", t) == "0"
	case float32, float64:
		return fmt.Sprintf("%v", t) == "0"
	case []byte:
		return len(t) == 0
	default:
		return false
	}
}

// SafeJSONValue converts a scanned value into something encoding/json can
// serialise without surprises; anything exotic degrades to its string form.
func SafeJSONValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = SafeJSONValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = SafeJSONValue(val)
		}
		return out
	default:
		return fmt.Sprintf("%v", t)
	}
}

func SafeCut(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
