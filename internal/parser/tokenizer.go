package parser

import (
	"regexp"
	"strings"
)

// Token is one word of a clause. Lemma is the lower-case base form used for
// vocabulary matching; Text keeps the original spelling.
type Token struct {
	Text  string
	Lemma string
	Index int
}

// Tokenizer splits cleaned policy text into clauses and clauses into tokens.
type Tokenizer interface {
	Clauses(text string) []string
	Tokens(clause string) []Token
}

var (
	// A terminator only ends a clause when followed by whitespace or the end
	// of text, so the dots inside 10.0.0.1 never split.
	clauseBoundary  = regexp.MustCompile(`[.!?;]+(?:\s+|$)`)
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\r]+`)
)

const tokenPunct = `.,!?;"'()[]{}`

var verbForms = map[string]string{
	"blocks": "block", "blocked": "block", "blocking": "block",
	"denies": "deny", "denied": "deny", "denying": "deny",
	"drops": "drop", "dropped": "drop", "dropping": "drop",
	"rejects": "reject", "rejected": "reject", "rejecting": "reject",
	"allows": "allow", "allowed": "allow", "allowing": "allow",
	"permits": "permit", "permitted": "permit", "permitting": "permit",
	"accepts": "accept", "accepted": "accept", "accepting": "accept",
}

// Clean lower-cases text, turns commas into spaces and collapses runs of
// blanks. Line breaks survive so they can still separate clauses.
func Clean(text string) string {
	text = strings.ReplaceAll(strings.ToLower(text), ",", " ")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Lemma reduces an inflected action verb to its base form; other words are
// only lower-cased.
func Lemma(word string) string {
	word = strings.ToLower(word)
	if base, ok := verbForms[word]; ok {
		return base
	}
	return word
}

// SimpleTokenizer is a deterministic whitespace tokenizer with sentence
// segmentation on terminal punctuation and line breaks.
type SimpleTokenizer struct{}

func (SimpleTokenizer) Clauses(text string) []string {
	var clauses []string
	for _, line := range strings.Split(text, "\n") {
		for _, part := range clauseBoundary.Split(line, -1) {
			if part = strings.TrimSpace(part); part != "" {
				clauses = append(clauses, part)
			}
		}
	}
	return clauses
}

func (SimpleTokenizer) Tokens(clause string) []Token {
	var tokens []Token
	for _, field := range strings.Fields(clause) {
		word := strings.Trim(field, tokenPunct)
		if word == "" {
			continue
		}
		tokens = append(tokens, Token{Text: word, Lemma: Lemma(word), Index: len(tokens)})
	}
	return tokens
}
