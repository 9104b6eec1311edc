package llm

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/randalmurphal/taskguide/pkg/flowgraph/errors"
)

// ExtractJSON returns the first syntactically valid JSON object or array
// embedded in text, skipping code fences, prose and bracketed text that
// is not JSON. Braces inside string literals are ignored. The second
// result is false when no valid value is found.
func ExtractJSON(text string) (string, bool) {
	return scanBalanced(text, func(c string) bool { return json.Valid([]byte(c)) })
}

// firstBalanced returns the first bracket-balanced span, valid or not.
func firstBalanced(text string) (string, bool) {
	return scanBalanced(text, func(string) bool { return true })
}

func scanBalanced(text string, accept func(string) bool) (string, bool) {
	for start := 0; start < len(text); start++ {
		c := text[start]
		if c != '{' && c != '[' {
			continue
		}
		end, ok := matchClosing(text, start)
		if ok && accept(text[start:end+1]) {
			return text[start : end+1], true
		}
	}
	return "", false
}

// matchClosing scans from an opening bracket to its balanced partner.
func matchClosing(text string, start int) (int, bool) {
	var stack []byte
	inString, escaped := false, false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// DecodeJSON extracts the first valid JSON value from text and decodes it
// into v. Without one, the first balanced span (or the whole text) gets a
// repair attempt before failing with *errors.JSONParseError.
func DecodeJSON(text string, v any) error {
	candidate, ok := ExtractJSON(text)
	if !ok {
		candidate, ok = firstBalanced(text)
	}
	if !ok {
		candidate = strings.TrimSpace(text)
	}
	if candidate == "" {
		return &errors.JSONParseError{Input: text, Message: "no JSON found"}
	}

	err := json.Unmarshal([]byte(candidate), v)
	if err == nil {
		return nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr != nil {
		return &errors.JSONParseError{Input: text, Message: err.Error()}
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return &errors.JSONParseError{Input: text, Message: err.Error()}
	}
	return nil
}
