package alias

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"policy-compiler/internal/utils"
)

type namePattern struct {
	name    string
	address string
	re      *regexp.Regexp
}

func compileName(name, address string) namePattern {
	return namePattern{
		name:    name,
		address: address,
		re:      regexp.MustCompile(`(?i)` + regexp.QuoteMeta(name)),
	}
}

// Substitute replaces every whole-word, case-insensitive occurrence of an
// alias name in text with its address. Longer names are applied first, one
// left-to-right pass per name. Matches inside an address literal are left
// alone so the result is stable under repeated substitution.
func (s *Snapshot) Substitute(text string) string {
	for _, p := range s.patterns {
		text = p.replace(text)
	}
	return text
}

func (p namePattern) replace(text string) string {
	var b strings.Builder
	last, pos := 0, 0
	for pos < len(text) {
		loc := p.re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if !wholeWord(text, start, end) || insideAddress(text, start, end) {
			_, size := utf8.DecodeRuneInString(text[start:])
			pos = start + size
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(p.address)
		last, pos = end, end
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// wholeWord reports whether text[start:end] is not glued to a letter, digit
// or underscore on either side. Unlike regexp's \b this sees non-ASCII letters.
func wholeWord(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func insideAddress(text string, start, end int) bool {
	for start > 0 && !isSpace(text[start-1]) {
		start--
	}
	for end < len(text) && !isSpace(text[end]) {
		end++
	}
	token := strings.Trim(text[start:end], `.,!?;"'()`)
	return utils.IsAddress(token)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
