package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseBestEffort implements the InvokerParseError local policy from spec
// §7: strip markdown code fences, then slice the outermost JSON object or
// array out of whatever text remains, and validate it actually parses.
func ParseBestEffort(raw json.RawMessage) (json.RawMessage, error) {
	text := stripFences(string(raw))
	sliced, err := sliceOutermost(text)
	if err != nil {
		return nil, err
	}
	var probe any
	if err := json.Unmarshal([]byte(sliced), &probe); err != nil {
		return nil, fmt.Errorf("parse_best_effort: %w", err)
	}
	return json.RawMessage(sliced), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		first := s[:nl]
		if !strings.ContainsAny(first, "{}[]\"") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func sliceOutermost(s string) (string, error) {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON object/array found")
	}
	end := bytes.LastIndexByte([]byte(s), close)
	if end < start {
		return "", fmt.Errorf("unbalanced JSON in response")
	}
	return s[start : end+1], nil
}
