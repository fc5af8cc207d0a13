// Package sanitize cleans end-user chat text before it reaches the model or
// storage.
package sanitize

import (
	"regexp"
	"strings"
)

// DefaultMaxLen is the cap applied when Sanitize is called with maxLen <= 0.
const DefaultMaxLen = 2000

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	handlerPattern   = regexp.MustCompile(`(?i)on\w+\s*=`)
	bareURLPattern   = regexp.MustCompile(`(?i)^https?://\S+$`)
	scriptPattern    = regexp.MustCompile(`(?i)<script|javascript:`)
	parentDirSegment = "../"
)

// Sanitize removes markup tags, inline event-handler attributes and
// parent-directory segments, then truncates to maxLen runes. Removal is
// repeated until the text is stable so that deleting one match cannot
// splice together a new one.
func Sanitize(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	clean := text
	for {
		next := tagPattern.ReplaceAllString(clean, "")
		next = handlerPattern.ReplaceAllString(next, "")
		next = strings.ReplaceAll(next, parentDirSegment, "")
		if next == clean {
			break
		}
		clean = next
	}
	return truncate(clean, maxLen)
}

// IsSuspicious flags messages that are only a bare URL or that carry script
// injection markers. Callers deflect these instead of calling the model.
func IsSuspicious(text string) bool {
	trimmed := strings.TrimSpace(text)
	if bareURLPattern.MatchString(trimmed) {
		return true
	}
	return scriptPattern.MatchString(text)
}

func truncate(s string, maxLen int) string {
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i]
		}
		n++
	}
	return s
}
