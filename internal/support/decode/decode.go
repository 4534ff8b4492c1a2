// Package decode reads loosely typed values out of JSON-shaped maps, such as
// editor initialization options.
package decode

import (
	"strconv"
	"strings"
)

func String(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func NonEmptyTrimmedString(v any) (string, bool) {
	s, ok := String(v)
	if !ok {
		return "", false
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

func NonEmptyTrimmedStringFromMap(values map[string]any, key string) (string, bool) {
	v, ok := values[key]
	if !ok {
		return "", false
	}
	return NonEmptyTrimmedString(v)
}

func Int(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint32:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func IntFromTextOrNumber(v any) (int, bool) {
	if n, ok := Int(v); ok {
		return n, true
	}
	s, ok := String(v)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func IntFromMapTextOrNumber(values map[string]any, key string) (int, bool) {
	v, ok := values[key]
	if !ok {
		return 0, false
	}
	return IntFromTextOrNumber(v)
}

func Bool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	default:
		n, ok := Int(v)
		if !ok || (n != 0 && n != 1) {
			return false, false
		}
		return n == 1, true
	}
}

func BoolFromMap(values map[string]any, key string) (bool, bool) {
	v, ok := values[key]
	if !ok {
		return false, false
	}
	return Bool(v)
}

// StringSlice keeps the string elements of v and skips the rest.
func StringSlice(v any) []string {
	switch typed := v.(type) {
	case []string:
		return append([]string{}, typed...)
	case []any:
		result := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

func StringSliceFromMap(values map[string]any, key string) ([]string, bool) {
	v, ok := values[key]
	if !ok {
		return nil, false
	}
	return StringSlice(v), true
}

// StringSlices decodes a list of string lists. Non-list elements are skipped.
func StringSlices(v any) [][]string {
	switch typed := v.(type) {
	case [][]string:
		result := make([][]string, 0, len(typed))
		for _, item := range typed {
			result = append(result, append([]string{}, item...))
		}
		return result
	case []any:
		result := make([][]string, 0, len(typed))
		for _, item := range typed {
			if inner := StringSlice(item); inner != nil {
				result = append(result, inner)
			}
		}
		return result
	default:
		return nil
	}
}

func StringSlicesFromMap(values map[string]any, key string) ([][]string, bool) {
	v, ok := values[key]
	if !ok {
		return nil, false
	}
	return StringSlices(v), true
}
