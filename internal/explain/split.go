package explain

import (
	"strconv"
	"strings"
)

// scanner walks text while tracking quoted spans and [] / {} nesting. A quote only
// opens a span at the start of an element (after a delimiter), so apostrophes inside
// words are plain characters.
type scanner struct {
	quote   byte
	escaped bool
	depth   int
	prev    byte
}

// step consumes c and reports whether it sits at the top level outside any quotes.
func (sc *scanner) step(c byte) bool {
	if sc.quote != 0 {
		switch {
		case sc.escaped:
			sc.escaped = false
		case c == '\\':
			sc.escaped = true
		case c == sc.quote:
			sc.quote = 0
			sc.prev = c
		}
		return false
	}
	switch c {
	case '"', '\'':
		if opensQuote(sc.prev) {
			sc.quote = c
			return false
		}
	case '[', '{':
		sc.depth++
		sc.prev = c
		return false
	case ']', '}':
		if sc.depth > 0 {
			sc.depth--
		}
		sc.prev = c
		return false
	}
	if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
		sc.prev = c
	}
	return sc.depth == 0
}

func opensQuote(prev byte) bool {
	switch prev {
	case 0, ',', '=', ':', '[', '{', '(':
		return true
	}
	return false
}

// splitTopLevel splits s on sep, ignoring separators inside quotes or brackets.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		sc    scanner
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == sep && sc.quote == 0 && sc.depth == 0 {
			parts = append(parts, s[start:i])
			start = i + 1
			sc.prev = sep
			continue
		}
		sc.step(c)
	}
	return append(parts, s[start:])
}

// indexOutsideQuotes returns the first index of c that is not inside a quoted span.
func indexOutsideQuotes(s string, c byte) int {
	var sc scanner
	for i := 0; i < len(s); i++ {
		if s[i] == c && sc.quote == 0 {
			return i
		}
		sc.step(s[i])
	}
	return -1
}

// splitList splits list text on top-level commas, trimming and unquoting each element
// and dropping empty ones.
func splitList(s string) []string {
	out := []string{}
	for _, part := range splitTopLevel(s, ',') {
		if item := unquote(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// stripBrackets removes one optional surrounding [ ] pair.
func stripBrackets(s string) string {
	s = strings.TrimSpace(s)
	if isWrapped(s, '[', ']') {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// stripQuotes removes one layer of matching surrounding quotes.
func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// unquote trims s and removes one pair of surrounding quotes, resolving escapes for
// double-quoted text when they are well formed.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if v, err := strconv.Unquote(s); err == nil {
			return strings.TrimSpace(v)
		}
	}
	return stripQuotes(s)
}
