// Package intent turns a free-form operator instruction into a DraftCommand:
// the action verb, an optional entity hint, filter predicates found in the
// text, and an optional schedule.
//
// Parsing is deterministic keyword matching over a vocab.Vocabulary. It never
// fails; text that matches nothing becomes an "update" draft with no verb
// label, no entity and no schedule.
package intent

import (
	"strings"
	"time"

	"github.com/bdobrica/Jimu/internal/jimu/vocab"
)

// DraftCommand is the parser's view of one instruction, before any caller
// context is merged in.
type DraftCommand struct {
	Intent vocab.ActionIntent
	// VerbMatched is false when no intent keyword appeared and Intent holds
	// the fallback value.
	VerbMatched bool
	// EntityType is empty when the text names no known entity.
	EntityType vocab.EntityType
	Filters    vocab.Filters
	Schedule   *Schedule
	Raw        string
}

// Parser classifies instructions against an immutable vocabulary.
type Parser struct {
	vocab *vocab.Vocabulary
	now   func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock sets the clock used to resolve relative dates such as
// "tomorrow" or "in 3 days".
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// NewParser returns a Parser over v. A nil v uses vocab.Default().
func NewParser(v *vocab.Vocabulary, opts ...Option) *Parser {
	if v == nil {
		v = vocab.Default()
	}
	p := &Parser{vocab: v, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse classifies text. It is safe for concurrent use.
func (p *Parser) Parse(text string) DraftCommand {
	tokens := vocab.Tokenise(text)

	d := DraftCommand{
		Intent:  vocab.IntentUpdate,
		Filters: make(vocab.Filters),
		Raw:     text,
	}

	if in, ok := p.detectIntent(tokens); ok {
		d.Intent = in
		d.VerbMatched = true
	}

	// Filter values are extracted first and masked out so that, for
	// example, "low on stock" does not make "stock" an entity hint.
	masked := p.extractFilters(tokens, d.Filters)
	d.EntityType = p.detectEntity(masked)
	d.Schedule = parseSchedule(text, tokens, p.now())

	return d
}

func (p *Parser) detectIntent(tokens []string) (vocab.ActionIntent, bool) {
	for _, fam := range p.vocab.Intents {
		for _, kw := range fam.Keywords {
			if vocab.ContainsPhrase(tokens, kw) {
				return fam.Intent, true
			}
		}
	}
	return "", false
}

func (p *Parser) detectEntity(tokens []string) vocab.EntityType {
	for _, ek := range p.vocab.Entities {
		for _, kw := range ek.Keywords {
			if vocab.ContainsPhrase(tokens, kw) {
				return ek.Entity
			}
		}
	}
	return ""
}

// extractFilters fills f from tokens and returns a copy of tokens with the
// consumed filter words blanked.
func (p *Parser) extractFilters(tokens []string, f vocab.Filters) []string {
	masked := make([]string, len(tokens))
	copy(masked, tokens)

	for _, phrase := range p.vocab.LowStockPhrases {
		if maskPhrase(masked, phrase) {
			f[vocab.FilterLowStock] = "true"
		}
	}

	for i := 0; i < len(masked); i++ {
		tok := masked[i]
		switch {
		case tok == "brand" && i+1 < len(masked) && p.vocab.IsFilterValue(masked[i+1]):
			if f[vocab.FilterBrand] == "" {
				f[vocab.FilterBrand] = masked[i+1]
			}
			masked[i], masked[i+1] = "", ""
			i++
		case tok == "region" && i+1 < len(masked) && p.vocab.IsFilterValue(masked[i+1]):
			if f[vocab.FilterRegion] == "" {
				f[vocab.FilterRegion] = masked[i+1]
			}
			masked[i], masked[i+1] = "", ""
			i++
		case p.vocab.IsRegion(tok):
			if f[vocab.FilterRegion] == "" {
				f[vocab.FilterRegion] = tok
			}
			masked[i] = ""
		case p.vocab.IsStatusWord(tok):
			if f[vocab.FilterStatus] == "" {
				f[vocab.FilterStatus] = tok
			}
			masked[i] = ""
		}
	}
	return masked
}

// maskPhrase blanks every occurrence of phrase in tokens and reports whether
// any was found.
func maskPhrase(tokens []string, phrase string) bool {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return false
	}
	found := false
	for i := 0; i+len(words) <= len(tokens); i++ {
		if vocab.ContainsPhrase(tokens[i:i+len(words)], phrase) {
			for j := range words {
				tokens[i+j] = ""
			}
			found = true
		}
	}
	return found
}
