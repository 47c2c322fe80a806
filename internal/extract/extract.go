// Package extract pulls JSON-shaped data out of free-form model output.
//
// Model replies are unreliable text: the structure may sit in a ```json
// fence, be embedded in prose, or be the whole reply. Extract tries those in
// order and validates the result against an expected shape and a set of
// required fields. Every failure is reported as an *Error.
package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// PreviewLimit bounds the number of runes of input carried by an Error.
const PreviewLimit = 200

// Shape is the top-level JSON kind a caller expects.
type Shape int

const (
	Object Shape = iota
	Array
)

func (s Shape) String() string {
	switch s {
	case Object:
		return "object"
	case Array:
		return "array"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Error reports that no valid structure could be found in a reply.
type Error struct {
	Reason  string
	Preview string
}

func (e *Error) Error() string {
	if e.Preview == "" {
		return "extraction failed: " + e.Reason
	}
	return fmt.Sprintf("extraction failed: %s (input: %q)", e.Reason, e.Preview)
}

// Errorf builds an Error for text that parsed but failed a caller's own checks.
func Errorf(text, format string, args ...any) *Error {
	return newError(text, format, args...)
}

func newError(text, format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...), Preview: preview(text)}
}

// Extract returns the first JSON value in text that has the expected shape and
// carries every required field. Objects decode to map[string]any and arrays to
// []any.
func Extract(text string, shape Shape, required ...string) (any, error) {
	_, v, err := locate(text, shape, required)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Decode is Extract followed by decoding the validated JSON into v.
func Decode(text string, shape Shape, required []string, v any) error {
	raw, _, err := locate(text, shape, required)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return newError(text, "decode %s: %v", shape, err)
	}
	return nil
}

func locate(text string, shape Shape, required []string) ([]byte, any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, &Error{Reason: "empty response"}
	}

	// A fence is authoritative: if it is there, nothing else is considered.
	if body, found, terminated := fenced(text); found {
		if !terminated {
			return nil, nil, newError(text, "unterminated ```json fence")
		}
		v, err := parse(body)
		if err != nil {
			return nil, nil, newError(text, "fenced block is not valid JSON: %v", err)
		}
		if err := validate(v, shape, required); err != nil {
			return nil, nil, newError(text, "%s", err)
		}
		return []byte(body), v, nil
	}

	var firstInvalid error
	for _, c := range candidates(text) {
		v, err := parse(c)
		if err != nil {
			continue
		}
		if err := validate(v, shape, required); err != nil {
			if firstInvalid == nil {
				firstInvalid = err
			}
			continue
		}
		return []byte(c), v, nil
	}

	whole := strings.TrimSpace(text)
	if v, err := parse(whole); err == nil {
		if err := validate(v, shape, required); err != nil {
			return nil, nil, newError(text, "%s", err)
		}
		return []byte(whole), v, nil
	}

	if firstInvalid != nil {
		return nil, nil, newError(text, "%s", firstInvalid)
	}
	return nil, nil, newError(text, "no JSON %s found", shape)
}

// fenced returns the body of the first ```json block. found reports whether an
// opening fence exists; terminated whether it was closed.
func fenced(text string) (body string, found, terminated bool) {
	const open = "```json"
	start := indexFold(text, open)
	if start < 0 {
		return "", false, false
	}
	rest := text[start+len(open):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", true, false
	}
	return strings.TrimSpace(rest[:end]), true, true
}

func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// candidates lists balanced array literals in order of discovery, followed by
// balanced object literals.
func candidates(text string) []string {
	out := balanced(text, '[', ']')
	return append(out, balanced(text, '{', '}')...)
}

func balanced(text string, open, close byte) []string {
	var out []string
	for i := 0; i < len(text); i++ {
		if text[i] != open {
			continue
		}
		if end := matchClose(text, i, open, close); end > 0 {
			out = append(out, text[i:end+1])
			i = end
		}
	}
	return out
}

// matchClose returns the index of the bracket closing text[start], skipping
// brackets inside JSON strings, or -1 when the literal never closes.
func matchClose(text string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parse(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func validate(v any, shape Shape, required []string) error {
	switch shape {
	case Object:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected a JSON object, got %s", kind(v))
		}
		if missing := missingFields(obj, required); len(missing) > 0 {
			return fmt.Errorf("object is missing required fields %v", missing)
		}
	case Array:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("expected a JSON array, got %s", kind(v))
		}
		if len(required) == 0 {
			return nil
		}
		for i, el := range arr {
			obj, ok := el.(map[string]any)
			if !ok {
				return fmt.Errorf("array element at index %d is %s, not an object", i, kind(el))
			}
			if missing := missingFields(obj, required); len(missing) > 0 {
				return fmt.Errorf("array element at index %d is missing required fields %v", i, missing)
			}
		}
	default:
		return fmt.Errorf("unknown shape %s", shape)
	}
	return nil
}

func missingFields(obj map[string]any, required []string) []string {
	var missing []string
	for _, f := range required {
		if _, ok := obj[f]; !ok {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	return missing
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLimit {
		return text
	}
	n := 0
	for i := range text {
		if n == PreviewLimit {
			return text[:i]
		}
		n++
	}
	return text
}
