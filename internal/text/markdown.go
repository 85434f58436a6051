package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// spaceClass matches the same runes as isSpace. RE2's \s is ASCII only, and
// model output routinely carries no-break spaces after list markers.
const spaceClass = `[\t\n\v\f\r \x{00A0}\x{1680}\x{2000}-\x{200A}\x{2028}\x{2029}\x{202F}\x{205F}\x{3000}\x{FEFF}]`

// isSpace reports whether r is whitespace or a line terminator for the
// purposes of stripping and trimming.
func isSpace(r rune) bool {
	switch {
	case r >= '\t' && r <= '\r', r == ' ':
		return true
	case r == 0x00A0, r == 0x1680, r >= 0x2000 && r <= 0x200A:
		return true
	case r == 0x2028, r == 0x2029, r == 0x202F, r == 0x205F, r == 0x3000, r == 0xFEFF:
		return true
	}
	return false
}

// isLineTerminator reports whether a line starts after r.
func isLineTerminator(r rune) bool {
	return r == '\n' || r == '\r' || r == 0x2028 || r == 0x2029
}

// Stage is one whole-string rewrite in the stripping pipeline.
type Stage struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
	// AtLineStart limits matches to positions that begin a line. Pattern is
	// then anchored with ^ and tried at each such position.
	AtLineStart bool
}

// Apply runs the stage over s.
func (st Stage) Apply(s string) string {
	if !st.AtLineStart {
		return st.Pattern.ReplaceAllString(s, st.Replace)
	}

	var b strings.Builder
	last := 0
	for i := 0; i < len(s); {
		if lineStart(s, i) {
			if loc := st.Pattern.FindStringSubmatchIndex(s[i:]); loc != nil && loc[1] > 0 {
				b.WriteString(s[last:i])
				b.Write(st.Pattern.ExpandString(nil, st.Replace, s[i:], loc))
				i += loc[1]
				last = i
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// lineStart reports whether offset i of s begins a line. Consumed text still
// counts: a match that ends right after a terminator leaves i at a line start.
func lineStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isLineTerminator(r)
}

// The order is significant: each stage sees the output of the previous one.
var stages = []Stage{
	{Name: "code_fence", Pattern: regexp.MustCompile("```[\\s\\S]*?```"), Replace: ""},
	{Name: "inline_code", Pattern: regexp.MustCompile("`([^`]+)`"), Replace: "$1"},
	{Name: "image", Pattern: regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`), Replace: ""},
	{Name: "link", Pattern: regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`), Replace: "$1"},
	{Name: "heading", Pattern: regexp.MustCompile(`^#{1,6}` + spaceClass + `+`), Replace: "", AtLineStart: true},
	{Name: "emphasis", Pattern: regexp.MustCompile(`[*_~]{1,3}([^*_~]+)[*_~]{1,3}`), Replace: "$1"},
	{Name: "bullet", Pattern: regexp.MustCompile(`^` + spaceClass + `*[-*+]` + spaceClass + `+`), Replace: "• ", AtLineStart: true},
	{Name: "blockquote", Pattern: regexp.MustCompile(`^>` + spaceClass + `?`), Replace: "", AtLineStart: true},
}

// Stages returns a copy of the pipeline in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// StripMarkdown turns Markdown into plain text for display or speech.
//
// Fenced code blocks and images are dropped, inline code, links, headings,
// emphasis and blockquotes are unwrapped to their text, list bullets become
// "• ", and the result is trimmed. It is a fixed heuristic chain rather than a
// parser: malformed markup is left partly stripped, never rejected.
//
// Whitespace includes the Unicode space separators, U+FEFF and the line
// terminators \n, \r, U+2028 and U+2029, each of which also starts a line.
func StripMarkdown(s string) string {
	for _, st := range stages {
		s = st.Apply(s)
	}
	return strings.TrimFunc(s, isSpace)
}
