package collab

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError reports a model reply that does not fit its schema.
type ValidationError struct {
	Schema string
	Reason string
	Raw    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s reply: %s", e.Schema, e.Reason)
}

// extractJSON extracts a JSON object from content that may contain
// surrounding text or a code fence.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
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
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// decode parses the JSON object in content into v.
func decode(schema, content string, v interface{}) error {
	raw := extractJSON(content)
	if raw == "" {
		return &ValidationError{Schema: schema, Reason: "no JSON object found", Raw: content}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &ValidationError{Schema: schema, Reason: err.Error(), Raw: content}
	}
	return nil
}
