package parser

import (
	"regexp"

	"policy-compiler/internal/model"
	"policy-compiler/internal/utils"
)

// AnyService is reported when a clause names no service.
const AnyService = "any"

var actionVerbs = map[string]model.Action{
	"allow":  model.Allow,
	"permit": model.Allow,
	"accept": model.Allow,
	"block":  model.Deny,
	"deny":   model.Deny,
	"drop":   model.Deny,
	"reject": model.Deny,
}

var rolePrepositions = map[string]model.Preposition{
	"on":   model.PrepTarget,
	"at":   model.PrepTarget,
	"from": model.PrepSource,
	"to":   model.PrepDestination,
}

// Words that qualify traffic without naming a service.
var fillerWords = map[string]bool{
	"all": true, "any": true, "traffic": true, "access": true,
	"incoming": true, "outgoing": true, "queries": true,
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"for": true, "of": true, "please": true, "ensure": true, "then": true,
	"also": true, "with": true, "by": true, "service": true, "services": true,
}

var serviceWord = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Extractor turns one clause into an unresolved Intent.
type Extractor struct {
	tokenizer Tokenizer
}

// NewExtractor returns an Extractor using t, or SimpleTokenizer when t is nil.
func NewExtractor(t Tokenizer) *Extractor {
	if t == nil {
		t = SimpleTokenizer{}
	}
	return &Extractor{tokenizer: t}
}

func (e *Extractor) Tokenizer() Tokenizer {
	return e.tokenizer
}

// Extract reads the action, service and address mentions of clause. It
// reports false when the clause contains no action verb.
func (e *Extractor) Extract(clause string) (*model.Intent, bool) {
	tokens := e.tokenizer.Tokens(clause)

	actionIdx := -1
	var action model.Action
	for i, tok := range tokens {
		if a, ok := actionVerbs[tok.Lemma]; ok {
			action, actionIdx = a, i // the last verb wins
		}
	}
	if actionIdx < 0 {
		return nil, false
	}

	return &model.Intent{
		Action:   action,
		Service:  findService(tokens, actionIdx),
		Mentions: findAddresses(tokens),
	}, true
}

func findService(tokens []Token, actionIdx int) string {
	for _, tok := range tokens[actionIdx+1:] {
		if utils.IsAddress(tok.Text) {
			break
		}
		if _, ok := rolePrepositions[tok.Lemma]; ok {
			break
		}
		if stopWords[tok.Lemma] || fillerWords[tok.Lemma] {
			continue
		}
		if serviceWord.MatchString(tok.Lemma) {
			return tok.Lemma
		}
		break
	}

	for i := actionIdx - 1; i >= 0; i-- {
		tok := tokens[i]
		if _, ok := actionVerbs[tok.Lemma]; ok {
			continue
		}
		if _, ok := rolePrepositions[tok.Lemma]; ok {
			continue
		}
		if stopWords[tok.Lemma] || fillerWords[tok.Lemma] || utils.IsAddress(tok.Text) {
			continue
		}
		if serviceWord.MatchString(tok.Lemma) {
			return tok.Lemma
		}
	}
	return AnyService
}

func findAddresses(tokens []Token) []model.AddressMention {
	var mentions []model.AddressMention
	for i, tok := range tokens {
		if !utils.IsAddress(tok.Text) {
			continue
		}
		prep := model.PrepNone
		if i > 0 {
			if p, ok := rolePrepositions[tokens[i-1].Lemma]; ok {
				prep = p
			}
		}
		mentions = append(mentions, model.AddressMention{
			Address:     tok.Text,
			Preposition: prep,
			Position:    tok.Index,
		})
	}
	return mentions
}
