// Package llm - util.go provides shared utilities for LLM response processing.
package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a response holds no valid JSON object
var ErrNoJSON = errors.New("no valid JSON object in response")

const fence = "```"

// ExtractJSON pulls a structured payload out of free model text.
// Fenced code blocks are tried first, in order; failing that, the first
// balanced {...} substring that parses as JSON is returned. Anything else
// is ErrNoJSON; partial structure is never repaired.
func ExtractJSON(text string) (string, error) {
	for _, block := range fencedBlocks(text) {
		if candidate := strings.TrimSpace(block); isJSONObject(candidate) {
			return candidate, nil
		}
	}

	for start := strings.IndexByte(text, '{'); start >= 0; {
		if candidate := balancedObject(text[start:]); candidate != "" && isJSONObject(candidate) {
			return candidate, nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}

	return "", ErrNoJSON
}

// fencedBlocks returns the bodies of every ``` fenced block, language tag removed
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		open := strings.Index(rest, fence)
		if open < 0 {
			return blocks
		}
		body := rest[open+len(fence):]
		end := strings.Index(body, fence)
		if end < 0 {
			return blocks
		}
		blocks = append(blocks, stripLanguageTag(body[:end]))
		rest = body[end+len(fence):]
	}
}

// stripLanguageTag drops a leading identifier line such as "json"
func stripLanguageTag(body string) string {
	idx := strings.IndexByte(body, '\n')
	if idx < 0 {
		return body
	}
	firstLine := strings.TrimSpace(body[:idx])
	if len(firstLine) < 20 && !strings.ContainsAny(firstLine, " {[") {
		return body[idx+1:]
	}
	return body
}

// balancedObject returns the shortest prefix of s that closes the '{' at s[0],
// honouring string literals and escapes. Returns "" if it never closes.
func balancedObject(s string) string {
	if s == "" || s[0] != '{' {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

func isJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}
