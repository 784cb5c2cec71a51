package llms

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeStructured parses a model response into out, tolerating the usual
// formatting noise. Strategies are tried in order of specificity:
//
//  1. direct parse of the whole response
//  2. balanced-brace scan for the first complete JSON object or array
//  3. fenced code-block extraction
//
// A response that survives none of them returns an error; callers apply
// their own fallback (e.g. the planner's single respond step).
func DecodeStructured(raw string, out any) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("empty response")
	}

	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	if candidate := scanBalanced(trimmed); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return nil
		}
	}

	if candidate := extractFenced(trimmed); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return nil
		}
		// The fence may itself wrap prose around the object.
		if inner := scanBalanced(candidate); inner != "" {
			if err := json.Unmarshal([]byte(inner), out); err == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("no parseable JSON in response (%d bytes)", len(raw))
}

// scanBalanced returns the first balanced JSON object or array in s,
// tracking string literals and escapes so braces inside strings don't
// confuse the depth count.
func scanBalanced(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// extractFenced returns the contents of the first fenced code block.
func extractFenced(s string) string {
	idx := strings.Index(s, "```")
	if idx < 0 {
		return ""
	}
	rest := s[idx+3:]

	// Skip an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "json" || firstLine == "" || !strings.ContainsAny(firstLine, "{[") {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// UnwrapEnvelope peels common wrapper shapes off a decoded JSON document:
// single-key envelopes with the given names (matched case-insensitively),
// JSON encoded as a quoted string, and single-element arrays whose lone
// element is itself such an envelope. A single-element array of payload
// objects is left alone; the caller may want the array itself.
func UnwrapEnvelope(data json.RawMessage, keys ...string) json.RawMessage {
	for depth := 0; depth < 4; depth++ {
		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" {
			return data
		}

		switch trimmed[0] {
		case '"':
			// JSON wrapped in a string: unquote and continue.
			var inner string
			if err := json.Unmarshal(data, &inner); err != nil {
				return data
			}
			data = json.RawMessage(inner)

		case '[':
			var arr []json.RawMessage
			if err := json.Unmarshal(data, &arr); err != nil || len(arr) != 1 {
				return data
			}
			if !carriesEnvelopeKey(arr[0], keys) {
				return data
			}
			data = arr[0]

		case '{':
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(data, &obj); err != nil {
				return data
			}
			unwrapped := false
			for name, value := range obj {
				for _, key := range keys {
					if strings.EqualFold(name, key) {
						data = value
						unwrapped = true
						break
					}
				}
				if unwrapped {
					break
				}
			}
			if !unwrapped {
				return data
			}

		default:
			return data
		}
	}
	return data
}

func carriesEnvelopeKey(data json.RawMessage, keys []string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return false
	}
	for name := range obj {
		for _, key := range keys {
			if strings.EqualFold(name, key) {
				return true
			}
		}
	}
	return false
}
