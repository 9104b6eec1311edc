package tools

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Args is a decoded tool-call argument object. Accessors return the
// default when a key is missing or holds an unusable value; models are
// loose with types, so numeric strings are accepted as numbers.
type Args map[string]any

// String returns the trimmed string value for key, or defaultVal.
func (a Args) String(key, defaultVal string) string {
	switch v := a[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return defaultVal
}

// Float returns the numeric value for key, or defaultVal.
func (a Args) Float(key string, defaultVal float64) float64 {
	if f, ok := toFloat(a[key]); ok {
		return f
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal.
func (a Args) Int(key string, defaultVal int) int {
	if f, ok := toFloat(a[key]); ok {
		return int(f)
	}
	return defaultVal
}

// Strings returns a string list for key. A single string is treated as
// a one-element list; a comma-separated string is split.
func (a Args) Strings(key string) []string {
	var out []string
	switch v := a[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Floats returns a numeric list for key. Non-numeric items are skipped
// and reported through ok=false.
func (a Args) Floats(key string) (vals []float64, ok bool) {
	items, isList := a[key].([]any)
	if !isList {
		if f, single := toFloat(a[key]); single {
			return []float64{f}, true
		}
		return nil, a[key] == nil
	}
	ok = true
	for _, item := range items {
		f, good := toFloat(item)
		if !good {
			ok = false
			continue
		}
		vals = append(vals, f)
	}
	return vals, ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(n), "$")
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}
