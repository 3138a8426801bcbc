package llm

import "strings"

// reasoningTags are the span markers reasoning models wrap their
// chain-of-thought in. Matching is case-insensitive and spans may nest.
// A redacted_reasoning opener is usually closed by a bare </think>, so
// both closers are accepted for it.
var reasoningTags = []struct {
	open    string
	closers []string
}{
	{"<think>", []string{"</think>"}},
	{"<redacted_reasoning>", []string{"</redacted_reasoning>", "</think>"}},
}

// StripReasoning removes reasoning spans from model output. Reasoning
// models emit these before or around structured output; they must be
// removed before JSON parsing. An unclosed opening tag strips from the
// tag to the end of the string.
func StripReasoning(s string) string {
	for _, tag := range reasoningTags {
		s = stripSpans(s, tag.open, tag.closers)
	}
	return strings.TrimSpace(s)
}

// earliest returns the index and length of the first closer occurring
// in s, or -1 when none does.
func earliest(s string, closers []string) (int, int) {
	idx, length := -1, 0
	for _, c := range closers {
		if i := strings.Index(s, c); i != -1 && (idx == -1 || i < idx) {
			idx, length = i, len(c)
		}
	}
	return idx, length
}

// stripSpans removes every span opened by open and ended by whichever
// closer comes first, honoring nesting: an inner open tag must be
// matched by its own closer before the outer span ends.
func stripSpans(s, open string, closers []string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	i := 0
	for {
		start := strings.Index(lower[i:], open)
		if start == -1 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])

		depth := 1
		j := start + len(open)
		for depth > 0 {
			nextOpen := strings.Index(lower[j:], open)
			nextClose, closeLen := earliest(lower[j:], closers)
			if nextClose == -1 {
				// Unclosed span: drop through end of string.
				j = len(s)
				break
			}
			if nextOpen != -1 && nextOpen < nextClose {
				depth++
				j += nextOpen + len(open)
			} else {
				depth--
				j += nextClose + closeLen
			}
		}
		i = j
		if i >= len(s) {
			break
		}
	}
	return b.String()
}

// StripFences removes a surrounding markdown code fence (```json ... ```)
// from model output, after stripping reasoning spans.
func StripFences(s string) string {
	s = StripReasoning(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
