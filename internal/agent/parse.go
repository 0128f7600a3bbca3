package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripFences removes markdown code fences the model wraps around JSON
// despite instructions not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```json")
			s = strings.TrimPrefix(s, "```")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// balancedSlice finds the first open rune and returns the substring up to
// its balancing close, counting nesting and skipping string literals. A
// truncated response returns ok=false.
func balancedSlice(s string, opener, closer byte) (string, bool) {
	start := strings.IndexByte(s, opener)
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// batchResponse is the wire shape the model must produce.
type batchResponse struct {
	Categorizations      []Categorization `json:"categorizations"`
	NewCategoriesCreated []string         `json:"new_categories_created"`
}

// parseBatchResponse defensively parses a model reply. The reply must
// contain a JSON object with a "categorizations" array; anything else,
// including a bare array or a truncated object, is a parse failure.
func parseBatchResponse(raw string) (batchResponse, error) {
	var out batchResponse

	cleaned := stripFences(raw)
	obj, ok := balancedSlice(cleaned, '{', '}')
	if !ok {
		return out, fmt.Errorf("parseBatchResponse: no balanced JSON object in reply")
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, fmt.Errorf("parseBatchResponse: %w", err)
	}
	if !strings.Contains(obj, `"categorizations"`) {
		return out, fmt.Errorf("parseBatchResponse: reply has no categorizations key")
	}
	return out, nil
}

// parseJSONObject extracts and unmarshals the first balanced object into dst.
func parseJSONObject(raw string, dst any) error {
	cleaned := stripFences(raw)
	obj, ok := balancedSlice(cleaned, '{', '}')
	if !ok {
		return fmt.Errorf("parseJSONObject: no balanced JSON object in reply")
	}
	if err := json.Unmarshal([]byte(obj), dst); err != nil {
		return fmt.Errorf("parseJSONObject: %w", err)
	}
	return nil
}
