package llm

import (
	"regexp"
	"strings"
)

// Pre-compiled patterns for locating a JSON object in raw backend text.
var (
	// fencedObjectPattern matches an object inside a markdown code fence
	// tagged as json (or untagged): ```json { ... } ```
	fencedObjectPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON locates the JSON object in a raw backend response.
// Preference order: the first fenced block tagged as JSON, else the span
// from the first opening brace to the last closing brace. The result is
// cleaned of line comments and trailing commas, which backends commonly
// emit despite instructions. Returns "" when no candidate exists.
func ExtractJSON(content string) string {
	raw := locateObject(content)
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

func locateObject(content string) string {
	if matches := fencedObjectPattern.FindStringSubmatch(content); len(matches) > 1 {
		return matches[1]
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return content[start : end+1]
}

// cleanJSON removes JavaScript-style line comments and trailing commas.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	result := strings.Join(cleaned, "\n")

	return trailingCommaPattern.ReplaceAllString(result, "$1")
}

// stripLineComment removes a // comment from a JSON line, respecting
// string values (a URL like "http://x" is not a comment).
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
