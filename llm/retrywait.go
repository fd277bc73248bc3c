package llm

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// retryWindow is how many characters around the word "retry" are searched
// for a recommended wait.
const retryWindow = 80

// waitPattern matches a decimal number adjacent to a time unit,
// e.g. "30s", "1.5 minutes", "500ms".
var waitPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?|m|mins?|minutes?|h|hours?)\b`)

// ParseRetryWait extracts a recommended wait from free-text failure output.
// It looks for a number adjacent to a time unit near the word "retry".
// This is a best-effort heuristic: the result is a hint, and callers must
// fall back to a configured default when ok is false.
func ParseRetryWait(text string) (wait time.Duration, ok bool) {
	lower := strings.ToLower(text)

	idx := strings.Index(lower, "retry")
	if idx == -1 {
		return 0, false
	}

	start := idx - retryWindow
	if start < 0 {
		start = 0
	}
	end := idx + retryWindow
	if end > len(lower) {
		end = len(lower)
	}

	match := waitPattern.FindStringSubmatch(lower[start:end])
	if match == nil {
		return 0, false
	}

	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}

	var unit time.Duration
	switch {
	case strings.HasPrefix(match[2], "ms"), strings.HasPrefix(match[2], "milli"):
		unit = time.Millisecond
	case strings.HasPrefix(match[2], "h"):
		unit = time.Hour
	case strings.HasPrefix(match[2], "m"):
		unit = time.Minute
	default:
		unit = time.Second
	}

	d := time.Duration(value * float64(unit))
	if d <= 0 {
		return 0, false
	}
	return d, true
}
