package llm

import "strings"

// CleanJSONBlock recovers the JSON value from a model response. It strips
// markdown code fences, drops conversational preamble before the first JSON
// object or array, and drops trailing chatter after it. Models produce all
// three even when told to return bare JSON.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Drop a language tag on the fence line ("json", "javascript", etc.).
		if idx := strings.Index(text, "\n"); idx >= 0 {
			tag := strings.TrimSpace(text[:idx])
			if tag != "" && len(tag) < 20 && !strings.ContainsAny(tag, " {[") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	if idx := strings.IndexAny(text, "{["); idx >= 0 {
		var value string
		if text[idx] == '{' {
			value = extractJSONObject(text[idx:])
		} else {
			value = extractJSONArray(text[idx:])
		}
		if value != "" {
			return value
		}
	}
	return text
}

// extractJSONObject returns the balanced JSON object at the start of text,
// or "" when text does not start with one.
func extractJSONObject(text string) string {
	return extractBalanced(text, '{', '}')
}

// extractJSONArray returns the balanced JSON array at the start of text,
// or "" when text does not start with one.
func extractJSONArray(text string) string {
	return extractBalanced(text, '[', ']')
}

// extractBalanced scans for the closing delimiter matching the opener at
// position zero, skipping delimiters inside string literals.
func extractBalanced(text string, open, close byte) string {
	if len(text) == 0 || text[0] != open {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return ""
}
