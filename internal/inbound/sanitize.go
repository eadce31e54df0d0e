package inbound

import (
	"regexp"
	"strings"
)

// UI chrome the OCR pass picks up around real messages.
var (
	pureDigitsRe = regexp.MustCompile(`^\d+$`)
	timestampRe  = regexp.MustCompile(`^\d{1,2}:\d{2}(\s?(AM|PM|am|pm))?$`)
	weekdayRe    = regexp.MustCompile(`(?i)^(mon|tue|wed|thu|fri|sat|sun)(day|sday|nesday|rsday|urday)?$`)
)

// Sanitize strips UI chrome lines from candidate text: pure digit
// strings, single characters, timestamps, weekday labels, and the
// window title. Returns "" when nothing survives; idempotent.
func Sanitize(text, windowTitle string) string {
	title := strings.TrimSpace(windowTitle)
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || len([]rune(line)) <= 1 {
			continue
		}
		if pureDigitsRe.MatchString(line) || timestampRe.MatchString(line) || weekdayRe.MatchString(line) {
			continue
		}
		if title != "" && line == title {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// MergeUniqueLines appends the lines of extra that base does not already
// contain, preserving order.
func MergeUniqueLines(base, extra string) string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, line := range strings.Split(base, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	for _, line := range strings.Split(extra, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// NewLines returns the lines of curr that are absent from prev, in
// order. This is the line-set delta the pixel signal reports.
func NewLines(prev, curr string) string {
	old := map[string]struct{}{}
	for _, line := range strings.Split(prev, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			old[line] = struct{}{}
		}
	}
	out := make([]string, 0)
	for _, line := range strings.Split(curr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := old[line]; !ok {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
